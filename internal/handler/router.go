package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/hcegateway/internal/federation"
	"github.com/hitoshi/hcegateway/internal/middleware"
	"github.com/hitoshi/hcegateway/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface

	// アカウント・診療記録
	AccountService  AccountServiceInterface
	ClinicalService ClinicalServiceInterface
	Enrichment      EnrichmentInterface

	// 拠点間リレー
	RelayStore RelayStore
	Policy     *federation.Policy

	// 運用
	SiteName        string
	SitesConfigured int
	MetricsHandler  http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// 認証が必要なルートには BearerAuth → RateLimit(General) を追加で適用する。
// ログインルートは送信元IP単位のログイン制限のみを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	accountHandler := NewAccountHandler(deps.AccountService)
	clinicalHandler := NewClinicalHandler(deps.ClinicalService, deps.Enrichment)
	relayHandler := NewRelayHandler(deps.RelayStore, deps.Policy, deps.Logger)
	healthHandler := NewHealthHandler(deps.SiteName, deps.SitesConfigured)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.With(deps.RateLimiter.LoginMiddleware()).Post("/api/auth/login", authHandler.Login)
	r.Post("/api/auth/verify", authHandler.Verify)

	// 自己登録とスタッフ登録
	r.Post("/api/pacientes", accountHandler.RegisterPatient)
	r.Post("/api/admin/doctores", accountHandler.CreatePractitioner)
	r.Post("/api/admin/admisionistas", accountHandler.CreateAdmissionsStaff)

	// 拠点間リレー（拠点メッシュ内からのみ到達する想定）
	r.Get("/internal/relay/{resourceType}", relayHandler.Relay)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/auth/logout", authHandler.Logout)

		// 患者（POST /api/pacientes は公開ルートと同一パスのためRouteでまとめない）
		r.Get("/api/pacientes", accountHandler.ListPatients)
		r.Get("/api/pacientes/{id}", accountHandler.GetPatient)
		r.Put("/api/pacientes/{id}", accountHandler.UpdatePatient)

		// スタッフ
		r.Get("/api/admin/doctores", accountHandler.ListPractitioners)
		r.Get("/api/admin/admisionistas", accountHandler.ListAdmissionsStaff)
		r.Route("/api/doctores/{id}", func(r chi.Router) {
			r.Get("/", accountHandler.GetPractitioner)
			r.Get("/pacientes", clinicalHandler.PatientsOfPractitioner)
		})

		// 診療記録
		r.Route("/api/historia-clinica", func(r chi.Router) {
			r.Post("/", clinicalHandler.Create(model.ResourceClinicalEpisode))
			r.Get("/registro/{id}", clinicalHandler.GetEpisode)
			r.Get("/{id}", clinicalHandler.EpisodesOfPatient)
			r.Put("/{id}", clinicalHandler.UpdateEpisode)
		})

		// 検査
		r.Route("/api/examenes", func(r chi.Router) {
			r.Post("/", clinicalHandler.Create(model.ResourceExam))
			r.Get("/buscar", clinicalHandler.SearchExams)
			r.Get("/historia/{id}", clinicalHandler.ChildrenOfEpisode(model.ResourceExam))
			r.Get("/{id}", clinicalHandler.GetExam)
		})

		// 処置
		r.Route("/api/procedimientos", func(r chi.Router) {
			r.Post("/", clinicalHandler.Create(model.ResourceProcedure))
			r.Get("/buscar", clinicalHandler.SearchProcedures)
			r.Get("/historia/{id}", clinicalHandler.ChildrenOfEpisode(model.ResourceProcedure))
			r.Get("/{id}", clinicalHandler.GetProcedure)
		})

		// 疾患
		r.Route("/api/enfermedades", func(r chi.Router) {
			r.Post("/", clinicalHandler.Create(model.ResourceDisease))
			r.Get("/{id}", clinicalHandler.ChildrenOfEpisode(model.ResourceDisease))
		})

		r.Post("/api/generar-id-clinico", clinicalHandler.GenerateClinicalID)
	})

	return r
}
