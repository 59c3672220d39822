// Package auth はプリンシパルの識別（ログイン）とセッショントークンの発行・検証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/hcegateway/internal/model"
)

// Gatherer はフェデレーション収集のインターフェース。
type Gatherer interface {
	Gather(ctx context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error)
}

// LoginRecorder はログイン試行のメトリクス記録インターフェース。
type LoginRecorder interface {
	ObserveLogin(role string, success bool)
}

// principalVariant はログイン時に探索するプリンシパル種別。
type principalVariant struct {
	resource model.ResourceType
	idField  string
	role     model.Role
}

// probeOrder は探索順。最初に照合に成功した種別で確定し、以降は探索しない。
var probeOrder = []principalVariant{
	{resource: model.ResourceAdmissionsStaff, idField: model.FieldAdmissionsID, role: model.RoleAdmissions},
	{resource: model.ResourcePractitioner, idField: model.FieldPractitionerID, role: model.RolePhysician},
	{resource: model.ResourcePatient, idField: model.FieldPatientID, role: model.RolePatient},
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token     string
	Role      model.Role
	SubjectID int64
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	gatherer Gatherer
	hasher   PasswordHasher
	tokens   *TokenIssuer
	logger   *slog.Logger
	recorder LoginRecorder
}

// NewService はServiceを生成する。recorderはnil可。
func NewService(gatherer Gatherer, hasher PasswordHasher, tokens *TokenIssuer, logger *slog.Logger, recorder LoginRecorder) *Service {
	return &Service{
		gatherer: gatherer,
		hasher:   hasher,
		tokens:   tokens,
		logger:   logger,
		recorder: recorder,
	}
}

// Login はユーザー名とパスワードでプリンシパルを識別し、セッショントークンを発行する。
//
// 受付担当、医師、患者の順にローカル専用テーブルをユーザー名で検索し、
// 保存済みハッシュの照合に成功した最初の種別で確定する。
// ユーザー名が一致しても照合に失敗した種別は採用せず、次の種別へ進む。
// 失敗時はどの段階で失敗したかを区別しない InvalidCredentials を返す。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		s.observe("", false)
		return nil, model.NewInvalidCredentialsError()
	}

	filter := model.EqFilter(model.FieldUsername, username)
	for _, v := range probeOrder {
		records, err := s.gatherer.Gather(ctx, v.resource, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to probe %s: %w", v.resource, err)
		}
		if len(records) == 0 {
			continue
		}

		rec := records[0]
		if !s.hasher.Verify(password, rec.String(model.FieldCredential)) {
			continue
		}

		subject, ok := rec.Int64(v.idField)
		if !ok {
			s.logger.Error("principal record has no numeric id",
				slog.String("resource", string(v.resource)),
				slog.String("id_field", v.idField),
			)
			continue
		}

		token, expiresAt, err := s.tokens.Issue(subject, v.role)
		if err != nil {
			return nil, err
		}

		s.logger.Info("login succeeded",
			slog.String("role", string(v.role)),
			slog.Int64("subject", subject),
		)
		s.observe(string(v.role), true)
		return &LoginResult{
			Token:     token,
			Role:      v.role,
			SubjectID: subject,
			ExpiresAt: expiresAt,
		}, nil
	}

	s.logger.Info("login rejected")
	s.observe("", false)
	return nil, model.NewInvalidCredentialsError()
}

// Verify はトークンを検証し、クレームを返す。失敗時は TokenInvalid を返す。
func (s *Service) Verify(token string) (*model.TokenClaims, error) {
	return s.tokens.Verify(token)
}

// Logout はステートレスなログアウトを行う。
// サーバー側にセッションを保持しないため、トークンは有効期限まで有効なままとなる。
func (s *Service) Logout(_ context.Context, claims *model.TokenClaims) {
	if claims == nil {
		return
	}
	s.logger.Info("logout acknowledged",
		slog.String("role", string(claims.Role)),
		slog.Int64("subject", claims.Subject),
	)
}

func (s *Service) observe(role string, success bool) {
	if s.recorder != nil {
		s.recorder.ObserveLogin(role, success)
	}
}
