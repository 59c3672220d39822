package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/hcegateway/internal/model"
)

// DefaultTokenTTL はセッショントークンの有効期間。
const DefaultTokenTTL = 24 * time.Hour

// Claims はセッショントークンに埋め込むクレーム。
// subにはプリンシパルの数値ID、rolにはロール名を格納する。
type Claims struct {
	Role string `json:"rol"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のセッショントークンを発行・検証する。
// サーバー側には何も保存しないため、失効リストは持たない。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。ttlが0以下の場合は24時間を使う。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はsubjectとroleを埋め込んだトークンと有効期限を返す。
func (i *TokenIssuer) Issue(subject int64, role model.Role) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subject, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify は署名と有効期限を検証し、クレームを返す。
// 不正・期限切れ・署名不一致のいずれも TokenInvalid として扱う。
func (i *TokenIssuer) Verify(tokenString string) (*model.TokenClaims, error) {
	if tokenString == "" {
		return nil, model.NewTokenInvalidError()
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenUnverifiable
			}
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, model.NewTokenInvalidError()
	}

	subject, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, model.NewTokenInvalidError()
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return nil, model.NewTokenInvalidError()
	}

	return &model.TokenClaims{
		Subject:   subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
