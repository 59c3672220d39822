package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hcegateway/internal/auth"
	"github.com/hitoshi/hcegateway/internal/middleware"
	"github.com/hitoshi/hcegateway/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	loginFn  func(ctx context.Context, username, password string) (*auth.LoginResult, error)
	verifyFn func(token string) (*model.TokenClaims, error)
	logouts  []*model.TokenClaims
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) Verify(token string) (*model.TokenClaims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return nil, model.NewTokenInvalidError()
}

func (m *mockAuthService) Logout(_ context.Context, claims *model.TokenClaims) {
	m.logouts = append(m.logouts, claims)
}

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	createFn func(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error)
	getFn    func(ctx context.Context, rt model.ResourceType, id int64) (model.Record, error)
	listFn   func(ctx context.Context, rt model.ResourceType) ([]model.Record, error)
	updateFn func(ctx context.Context, rt model.ResourceType, id int64, patch model.Record) (model.Record, error)
}

func (m *mockAccountService) Create(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error) {
	if m.createFn != nil {
		return m.createFn(ctx, rt, input)
	}
	return input, nil
}

func (m *mockAccountService) Get(ctx context.Context, rt model.ResourceType, id int64) (model.Record, error) {
	if m.getFn != nil {
		return m.getFn(ctx, rt, id)
	}
	return nil, model.NewNotFoundError("account", id)
}

func (m *mockAccountService) List(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	if m.listFn != nil {
		return m.listFn(ctx, rt)
	}
	return nil, nil
}

func (m *mockAccountService) Update(ctx context.Context, rt model.ResourceType, id int64, patch model.Record) (model.Record, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, rt, id, patch)
	}
	return patch, nil
}

// mockClinicalService はClinicalServiceInterfaceのモック実装。
type mockClinicalService struct {
	episodesOfPatientFn func(ctx context.Context, patientID int64) ([]model.Record, error)
	episodeFn           func(ctx context.Context, id int64) (model.Record, error)
	examFn              func(ctx context.Context, id int64) (model.Record, error)
	procedureFn         func(ctx context.Context, id int64) (model.Record, error)
	childrenFn          func(ctx context.Context, rt model.ResourceType, episodeID int64) ([]model.Record, error)
	createFn            func(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error)
	updateEpisodeFn     func(ctx context.Context, id int64, patch model.Record) (model.Record, error)
}

func (m *mockClinicalService) EpisodesOfPatient(ctx context.Context, patientID int64) ([]model.Record, error) {
	if m.episodesOfPatientFn != nil {
		return m.episodesOfPatientFn(ctx, patientID)
	}
	return nil, nil
}

func (m *mockClinicalService) Episode(ctx context.Context, id int64) (model.Record, error) {
	if m.episodeFn != nil {
		return m.episodeFn(ctx, id)
	}
	return nil, model.NewNotFoundError("historia", id)
}

func (m *mockClinicalService) Exam(ctx context.Context, id int64) (model.Record, error) {
	if m.examFn != nil {
		return m.examFn(ctx, id)
	}
	return nil, model.NewNotFoundError("examen", id)
}

func (m *mockClinicalService) Procedure(ctx context.Context, id int64) (model.Record, error) {
	if m.procedureFn != nil {
		return m.procedureFn(ctx, id)
	}
	return nil, model.NewNotFoundError("procedimiento", id)
}

func (m *mockClinicalService) ChildrenOfEpisode(ctx context.Context, rt model.ResourceType, episodeID int64) ([]model.Record, error) {
	if m.childrenFn != nil {
		return m.childrenFn(ctx, rt, episodeID)
	}
	return nil, nil
}

func (m *mockClinicalService) Create(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error) {
	if m.createFn != nil {
		return m.createFn(ctx, rt, input)
	}
	return input, nil
}

func (m *mockClinicalService) UpdateEpisode(ctx context.Context, id int64, patch model.Record) (model.Record, error) {
	if m.updateEpisodeFn != nil {
		return m.updateEpisodeFn(ctx, id, patch)
	}
	return patch, nil
}

// mockEnrichment はEnrichmentInterfaceのモック実装。
type mockEnrichment struct {
	searchExamsFn      func(ctx context.Context, patientID int64, from, to string) ([]model.Record, error)
	searchProceduresFn func(ctx context.Context, patientID int64, from, to string) ([]model.Record, error)
	patientsFn         func(ctx context.Context, practitionerID int64) ([]model.Record, error)
}

func (m *mockEnrichment) SearchExams(ctx context.Context, patientID int64, from, to string) ([]model.Record, error) {
	if m.searchExamsFn != nil {
		return m.searchExamsFn(ctx, patientID, from, to)
	}
	return nil, nil
}

func (m *mockEnrichment) SearchProcedures(ctx context.Context, patientID int64, from, to string) ([]model.Record, error) {
	if m.searchProceduresFn != nil {
		return m.searchProceduresFn(ctx, patientID, from, to)
	}
	return nil, nil
}

func (m *mockEnrichment) PatientsOfPractitioner(ctx context.Context, practitionerID int64) ([]model.Record, error) {
	if m.patientsFn != nil {
		return m.patientsFn(ctx, practitionerID)
	}
	return nil, nil
}

// mockRelayStore はRelayStoreのモック実装。
type mockRelayStore struct {
	findFn func(ctx context.Context, table string, filter model.Filter) ([]model.Record, error)
}

func (m *mockRelayStore) Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error) {
	if m.findFn != nil {
		return m.findFn(ctx, table, filter)
	}
	return nil, nil
}

// mockRawRelayStore はクエリ文字列をそのまま受け取るRelayStoreのモック実装。
type mockRawRelayStore struct {
	mockRelayStore
	rawFn func(ctx context.Context, table, rawQuery string) ([]model.Record, error)
}

func (m *mockRawRelayStore) FindRawQuery(ctx context.Context, table, rawQuery string) ([]model.Record, error) {
	return m.rawFn(ctx, table, rawQuery)
}

// コンパイル時にインターフェースの実装を検証する
var (
	_ AuthServiceInterface     = (*mockAuthService)(nil)
	_ AccountServiceInterface  = (*mockAccountService)(nil)
	_ ClinicalServiceInterface = (*mockClinicalService)(nil)
	_ EnrichmentInterface      = (*mockEnrichment)(nil)
	_ RelayStore               = (*mockRelayStore)(nil)
	_ RawQueryFinder           = (*mockRawRelayStore)(nil)
)

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// withClaims はテスト用にリクエストコンテキストへ検証済みクレームを注入するヘルパー。
func withClaims(r *http.Request, subject int64, role model.Role) *http.Request {
	claims := &model.TokenClaims{
		Subject:   subject,
		Role:      role,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return r.WithContext(middleware.ContextWithClaims(r.Context(), claims))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// parseRecords はレスポンスボディをレコード配列としてパースするヘルパー。
func parseRecords(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var result []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode records: %v", err)
	}
	return result
}

// parseObject はレスポンスボディをJSONオブジェクトとしてパースするヘルパー。
func parseObject(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode object: %v", err)
	}
	return result
}
