package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/hcegateway/internal/account"
	"github.com/hitoshi/hcegateway/internal/auth"
	"github.com/hitoshi/hcegateway/internal/clinical"
	"github.com/hitoshi/hcegateway/internal/config"
	"github.com/hitoshi/hcegateway/internal/database"
	"github.com/hitoshi/hcegateway/internal/federation"
	"github.com/hitoshi/hcegateway/internal/fhir"
	"github.com/hitoshi/hcegateway/internal/handler"
	"github.com/hitoshi/hcegateway/internal/logger"
	"github.com/hitoshi/hcegateway/internal/metrics"
	"github.com/hitoshi/hcegateway/internal/middleware"
	"github.com/hitoshi/hcegateway/internal/relay"
	"github.com/hitoshi/hcegateway/internal/repository"
	"github.com/hitoshi/hcegateway/internal/security"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("site", cfg.SiteName),
		slog.Int("sites_configured", cfg.Sites.Len()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateDirection(args))
	default:
		return runServe(cfg)
	}
}

// newHTTPClient は拠点リレー・PostgREST・FHIRで共有するHTTPクライアントを生成する。
// 呼び出しごとのタイムアウトはcontextで制御するため、クライアント自体には設定しない。
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// openLocalStore は設定に応じてローカルストアを開く。
// LOCAL_STORE_URL があればPostgREST、なければDATABASE_URLのPostgreSQLに直接接続する。
// 返すcloseはプロセス終了時に呼び出す。
func openLocalStore(ctx context.Context, cfg *config.Config, httpClient *http.Client) (repository.RecordStore, func() error, error) {
	if cfg.UsesPostgREST() {
		slog.Info("using PostgREST local store", slog.String("url", cfg.LocalStoreURL))
		store := repository.NewPostgRESTStore(httpClient, cfg.LocalStoreURL, slog.Default(), cfg.RelayMaxBody)
		return store, func() error { return nil }, nil
	}

	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return repository.NewPostgresRecordStore(db), db.Close, nil
}

// gateway はserveモードで組み立てたHTTPハンドラーと後始末をまとめる。
type gateway struct {
	handler http.Handler
	limiter *middleware.RateLimiter
}

// buildGateway は全依存関係をワイヤリングし、ルーターを構築する。
func buildGateway(cfg *config.Config, store repository.RecordStore, httpClient *http.Client, log *slog.Logger) *gateway {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. フェデレーション
	policy := federation.DefaultPolicy()
	relayClient := relay.NewClient(httpClient, log, cfg.RelayMaxBody)
	coordinator := federation.NewCoordinator(policy, cfg.Sites, store, relayClient, log, federation.Options{
		LocalTimeout:  cfg.LocalTimeout,
		RemoteTimeout: cfg.RemoteTimeout,
		Recorder:      collector,
	})

	// 3. 認証
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewService(coordinator, hasher, tokens, log, collector)

	// 4. ドメインサービス
	sanitizer := security.NewTextSanitizer()
	var mirror account.PatientMirror
	if cfg.FHIRURL != "" {
		mirror = fhir.NewClient(httpClient, cfg.FHIRURL, log)
	}
	accountService := account.NewService(coordinator, store, policy, hasher, sanitizer, mirror, log)
	clinicalService := clinical.NewService(coordinator, store, policy, sanitizer, log)
	joiner := clinical.NewJoiner(coordinator, log)

	// 5. ルーター
	limiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		TokenVerifier:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusRecorder:    collector,

		AuthService: authService,

		AccountService:  accountService,
		ClinicalService: clinicalService,
		Enrichment:      joiner,

		RelayStore: store,
		Policy:     policy,

		SiteName:        cfg.SiteName,
		SitesConfigured: cfg.Sites.Len(),
		MetricsHandler:  metrics.Handler(registry),
	})

	return &gateway{handler: router, limiter: limiter}
}

// runServe はAPIサーバーモードで起動する。
// ローカルストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := newHTTPClient()
	defer httpClient.CloseIdleConnections()

	store, closeStore, err := openLocalStore(ctx, cfg, httpClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("failed to close local store", slog.String("error", err.Error()))
		}
	}()

	gw := buildGateway(cfg, store, httpClient, slog.Default())
	defer gw.limiter.Stop()

	if cfg.Sites.Len() == 0 {
		slog.Warn("no sibling sites configured; federation is disabled")
	}
	if cfg.FHIRURL == "" {
		slog.Info("FHIR mirror is disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      gw.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// maxSequentialGathers は1リクエスト内で直列に行う収集の最大回数。
// ログインは受付担当・医師・患者の3種別を順に探索する。
const maxSequentialGathers = 3

// writeTimeout は直列収集の最悪時間に応答書き込みの余裕を加えた書き込みタイムアウトを返す。
// 拠点横断の収集はローカルと各拠点を並行に呼ぶため、1回あたり長い方のタイムアウトで上限が決まる。
func writeTimeout(cfg *config.Config) time.Duration {
	perGather := max(cfg.LocalTimeout, cfg.RemoteTimeout)
	return maxSequentialGathers*perGather + 15*time.Second
}

// runMigrate はローカルストアのスキーママイグレーションを実行する。
// upはすべての未適用マイグレーションを適用し、downは直前の1ステップを戻す。
func runMigrate(cfg *config.Config, direction MigrateDirection) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("direction", string(direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var err error
	switch direction {
	case MigrateDown:
		err = database.RollbackMigration(cfg.DatabaseURL)
	default:
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		slog.Warn("failed to read migration version", slog.String("error", err.Error()))
	} else {
		slog.Info("database migrations completed successfully",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
