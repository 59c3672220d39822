package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/hcegateway/internal/model"
)

// mockTokenVerifier はTokenVerifierのモック。
type mockTokenVerifier struct {
	verifyFn func(token string) (*model.TokenClaims, error)
	calls    int
}

func (m *mockTokenVerifier) Verify(token string) (*model.TokenClaims, error) {
	m.calls++
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return nil, errors.New("not configured")
}

var _ TokenVerifier = (*mockTokenVerifier)(nil)

func validVerifier() *mockTokenVerifier {
	return &mockTokenVerifier{
		verifyFn: func(token string) (*model.TokenClaims, error) {
			if token != "good-token" {
				return nil, model.NewTokenInvalidError()
			}
			return &model.TokenClaims{
				Subject:   17,
				Role:      model.RolePatient,
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
}

// TestBearerAuth_ValidToken は有効なトークンでクレームがコンテキストに注入されることを検証する。
func TestBearerAuth_ValidToken(t *testing.T) {
	var captured *model.TokenClaims
	handler := NewBearerAuthMiddleware(validVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := ClaimsFromContext(r.Context())
		if err != nil {
			t.Fatalf("ClaimsFromContext がエラーを返した: %v", err)
		}
		captured = claims
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/pacientes", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if captured == nil || captured.Subject != 17 || captured.Role != model.RolePatient {
		t.Errorf("claims = %+v", captured)
	}
}

// TestBearerAuth_Rejects は不正なAuthorizationヘッダーが401 TOKEN_INVALIDになることを検証する。
func TestBearerAuth_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantVerify bool
	}{
		{name: "ヘッダーなし", header: ""},
		{name: "Bearer以外のスキーム", header: "Basic dXNlcjpwYXNz"},
		{name: "空トークン", header: "Bearer "},
		{name: "無効なトークン", header: "Bearer bad-token", wantVerify: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := validVerifier()
			handler := NewBearerAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/pacientes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeTokenInvalid {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTokenInvalid)
			}
			if (verifier.calls > 0) != tt.wantVerify {
				t.Errorf("verifier calls = %d, wantVerify %v", verifier.calls, tt.wantVerify)
			}
		})
	}
}

// TestClaimsFromContext_Missing はクレーム未設定時にエラーを返すことを検証する。
func TestClaimsFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := ClaimsFromContext(req.Context()); err == nil {
		t.Error("expected error when claims are absent")
	}
}
