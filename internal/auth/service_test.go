package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/hitoshi/hcegateway/internal/model"
)

// --- モック定義 ---

type mockGatherer struct {
	mu       sync.Mutex
	probed   []model.ResourceType
	gatherFn func(ctx context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error)
}

func (m *mockGatherer) Gather(ctx context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error) {
	m.mu.Lock()
	m.probed = append(m.probed, rt)
	m.mu.Unlock()
	if m.gatherFn != nil {
		return m.gatherFn(ctx, rt, filter)
	}
	return nil, nil
}

// fakeHasher は "hash:" + 平文 をハッシュとみなすPasswordHasher。
type fakeHasher struct {
	mu       sync.Mutex
	verified []string
}

func (h *fakeHasher) Hash(plain string) (string, error) {
	return "hash:" + plain, nil
}

func (h *fakeHasher) Verify(plain, hash string) bool {
	h.mu.Lock()
	h.verified = append(h.verified, hash)
	h.mu.Unlock()
	return hash == "hash:"+plain
}

type mockLoginRecorder struct {
	successes int
	failures  int
}

func (m *mockLoginRecorder) ObserveLogin(_ string, success bool) {
	if success {
		m.successes++
	} else {
		m.failures++
	}
}

var (
	_ Gatherer       = (*mockGatherer)(nil)
	_ PasswordHasher = (*fakeHasher)(nil)
	_ LoginRecorder  = (*mockLoginRecorder)(nil)
)

// --- ヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// tablesGatherer はリソース種別ごとの固定レコードを返すGathererを生成する。
func tablesGatherer(t *testing.T, tables map[model.ResourceType][]model.Record) *mockGatherer {
	t.Helper()
	return &mockGatherer{
		gatherFn: func(_ context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error) {
			if filter.Get(model.FieldUsername) == "" {
				t.Errorf("probe for %s without usuario filter", rt)
			}
			return tables[rt], nil
		},
	}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("expected code %s, got %s", code, apiErr.Code)
	}
}

// --- テスト ---

// TestLogin_FirstMatchWins は医師が確定した時点で患者テーブルを照合しないことを検証する。
func TestLogin_FirstMatchWins(t *testing.T) {
	g := tablesGatherer(t, map[model.ResourceType][]model.Record{
		model.ResourcePractitioner: {{"id_doctor": 7, "usuario": "shared", "contrasena": "hash:doctor-pass"}},
		model.ResourcePatient:      {{"id_paciente": 99, "usuario": "shared", "contrasena": "hash:patient-pass"}},
	})
	h := &fakeHasher{}
	rec := &mockLoginRecorder{}
	svc := NewService(g, h, NewTokenIssuer("secret", 0), testLogger(), rec)

	res, err := svc.Login(context.Background(), "shared", "doctor-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Role != model.RolePhysician || res.SubjectID != 7 {
		t.Errorf("expected medico/7, got %s/%d", res.Role, res.SubjectID)
	}

	for _, hash := range h.verified {
		if hash == "hash:patient-pass" {
			t.Error("patient credential must not be consulted once physician matched")
		}
	}
	for _, rt := range g.probed {
		if rt == model.ResourcePatient {
			t.Error("patient table must not be probed once physician matched")
		}
	}
	if rec.successes != 1 {
		t.Errorf("expected 1 recorded success, got %d", rec.successes)
	}
}

// TestLogin_ProbeOrder は受付担当・医師・患者の順で探索することを検証する。
func TestLogin_ProbeOrder(t *testing.T) {
	g := tablesGatherer(t, map[model.ResourceType][]model.Record{
		model.ResourcePatient: {{"id_paciente": 17, "contrasena": "hash:pw"}},
	})
	svc := NewService(g, &fakeHasher{}, NewTokenIssuer("secret", 0), testLogger(), nil)

	res, err := svc.Login(context.Background(), "ana", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Role != model.RolePatient || res.SubjectID != 17 {
		t.Errorf("expected paciente/17, got %s/%d", res.Role, res.SubjectID)
	}

	want := []model.ResourceType{model.ResourceAdmissionsStaff, model.ResourcePractitioner, model.ResourcePatient}
	if len(g.probed) != len(want) {
		t.Fatalf("expected %d probes, got %v", len(want), g.probed)
	}
	for i := range want {
		if g.probed[i] != want[i] {
			t.Errorf("probe %d: expected %s, got %s", i, want[i], g.probed[i])
		}
	}
}

// TestLogin_VerifyFailureContinues はユーザー名一致でも照合失敗なら次の種別へ進むことを検証する。
func TestLogin_VerifyFailureContinues(t *testing.T) {
	g := tablesGatherer(t, map[model.ResourceType][]model.Record{
		model.ResourceAdmissionsStaff: {{"id_admisionista": 1, "contrasena": "hash:other"}},
		model.ResourcePractitioner:    {{"id_doctor": 2, "contrasena": "hash:pw"}},
	})
	svc := NewService(g, &fakeHasher{}, NewTokenIssuer("secret", 0), testLogger(), nil)

	res, err := svc.Login(context.Background(), "dual", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Role != model.RolePhysician || res.SubjectID != 2 {
		t.Errorf("expected medico/2, got %s/%d", res.Role, res.SubjectID)
	}
}

// TestLogin_InvalidCredentials は一致なし・照合失敗で同一のエラーを返すことを検証する。
func TestLogin_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name   string
		tables map[model.ResourceType][]model.Record
		user   string
		pass   string
	}{
		{name: "どのテーブルにも存在しない", tables: nil, user: "ghost", pass: "pw"},
		{
			name: "パスワード不一致",
			tables: map[model.ResourceType][]model.Record{
				model.ResourcePatient: {{"id_paciente": 3, "contrasena": "hash:right"}},
			},
			user: "ana", pass: "wrong",
		},
		{
			name: "ハッシュ未設定",
			tables: map[model.ResourceType][]model.Record{
				model.ResourcePatient: {{"id_paciente": 3}},
			},
			user: "ana", pass: "pw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockLoginRecorder{}
			svc := NewService(tablesGatherer(t, tt.tables), &fakeHasher{}, NewTokenIssuer("secret", 0), testLogger(), rec)

			res, err := svc.Login(context.Background(), tt.user, tt.pass)
			if res != nil {
				t.Errorf("expected nil result, got %+v", res)
			}
			assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
			if rec.failures != 1 {
				t.Errorf("expected 1 recorded failure, got %d", rec.failures)
			}
		})
	}
}

// TestLogin_EmptyInputSkipsProbing は空入力でストアを参照しないことを検証する。
func TestLogin_EmptyInputSkipsProbing(t *testing.T) {
	g := &mockGatherer{}
	svc := NewService(g, &fakeHasher{}, NewTokenIssuer("secret", 0), testLogger(), nil)

	_, err := svc.Login(context.Background(), "", "pw")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
	if len(g.probed) != 0 {
		t.Errorf("expected no probes, got %v", g.probed)
	}
}

// TestLogin_GatherErrorIsInternal は収集エラーを認証失敗として偽装しないことを検証する。
func TestLogin_GatherErrorIsInternal(t *testing.T) {
	g := &mockGatherer{
		gatherFn: func(context.Context, model.ResourceType, model.Filter) ([]model.Record, error) {
			return nil, errors.New("unknown resource type")
		},
	}
	svc := NewService(g, &fakeHasher{}, NewTokenIssuer("secret", 0), testLogger(), nil)

	_, err := svc.Login(context.Background(), "ana", "pw")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("gather failure should not be an APIError, got %v", apiErr)
	}
}

// TestLogin_TokenVerifies は発行されたトークンが検証できることを検証する。
func TestLogin_TokenVerifies(t *testing.T) {
	g := tablesGatherer(t, map[model.ResourceType][]model.Record{
		model.ResourceAdmissionsStaff: {{"id_admisionista": "5", "contrasena": "hash:pw"}},
	})
	svc := NewService(g, &fakeHasher{}, NewTokenIssuer("secret", 0), testLogger(), nil)

	res, err := svc.Login(context.Background(), "front", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := svc.Verify(res.Token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != 5 || claims.Role != model.RoleAdmissions {
		t.Errorf("unexpected claims: %+v", claims)
	}

	svc.Logout(context.Background(), claims)
	if _, err := svc.Verify(res.Token); err != nil {
		t.Errorf("logout is stateless; token should remain valid: %v", err)
	}
}
