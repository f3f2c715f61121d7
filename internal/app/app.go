package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/mdbsite/internal/admin"
	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/config"
	"github.com/hitoshi/mdbsite/internal/contact"
	"github.com/hitoshi/mdbsite/internal/content"
	"github.com/hitoshi/mdbsite/internal/database"
	"github.com/hitoshi/mdbsite/internal/handler"
	"github.com/hitoshi/mdbsite/internal/logger"
	"github.com/hitoshi/mdbsite/internal/metrics"
	"github.com/hitoshi/mdbsite/internal/middleware"
	"github.com/hitoshi/mdbsite/internal/notify"
	"github.com/hitoshi/mdbsite/internal/repository"
	"github.com/hitoshi/mdbsite/internal/roster"
	"github.com/hitoshi/mdbsite/internal/security"
	"github.com/hitoshi/mdbsite/internal/storage"
	"github.com/hitoshi/mdbsite/internal/worker/cleanup"
)

// compile-time interface check
var (
	_ backend.Recorder        = (*metrics.Collector)(nil)
	_ middleware.HTTPRecorder = (*metrics.Collector)(nil)
	_ middleware.RateRecorder = (*metrics.Collector)(nil)
	_ handler.LoginRecorder   = (*metrics.Collector)(nil)
	_ contact.Recorder        = (*metrics.Collector)(nil)
	_ cleanup.Recorder        = (*metrics.Collector)(nil)
)

// consoleSweepInterval はアイドルの管理コンソールを破棄する間隔。
const consoleSweepInterval = 5 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefaultWithLevel(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck と admin はサーバー設定を必要としないため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandAdmin:
		return newAdminCLI(w).run(args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開いて疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// backendSettings はサーバー設定からバックエンドの接続情報を組み立てる。
func backendSettings(cfg *config.Config) backend.Settings {
	s := backend.Settings{
		URL:           cfg.SupabaseURL,
		Key:           cfg.SupabaseAnonKey,
		Bucket:        cfg.Storage.Bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	}
	if cfg.Storage.S3Enabled() {
		s.S3 = &storage.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		}
	}
	return s
}

// ensureImageBucket はS3モードの場合に画像バケットの存在を確認し、なければ作成する。
func ensureImageBucket(ctx context.Context, s3cfg *storage.S3Config) error {
	if s3cfg == nil {
		return nil
	}
	bucket, err := storage.NewS3Bucket(*s3cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return bucket.EnsureBucket(ctx)
}

// openSessionStorage はSESSION_STOREに応じた認証セッションの永続化先を返す。
// 戻り値のcloseは接続を閉じる。
func openSessionStorage(ctx context.Context, cfg *config.Config, db *sql.DB) (backend.SessionStorage, func(), error) {
	switch cfg.SessionStore {
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("session store: redis")
		return repository.NewRedisAuthSessionRepo(client, cfg.SessionMaxAge), func() { client.Close() }, nil
	default:
		slog.Info("session store: postgres")
		return repository.NewPostgresAuthSessionRepo(db, cfg.SessionMaxAge), func() {}, nil
	}
}

// newRosterService はROSTER_SOURCEに応じた名簿サービスを返す。
func newRosterService(cfg *config.Config, db *sql.DB) roster.Service {
	if cfg.RosterSource == "database" {
		urls := storage.NewURLBuilder(cfg.SupabaseURL, cfg.Storage.PublicBaseURL, cfg.Storage.Bucket)
		return roster.NewDatabaseService(repository.NewPostgresRosterRepo(db), urls, slog.Default())
	}
	return roster.NewStaticService()
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	if !cfg.BackendConfigured() {
		slog.Warn("SUPABASE_URL or SUPABASE_ANON_KEY is not set; admin features are unavailable")
	}

	// 2. メトリクス
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promRegistry)

	// 3. 管理コンソール
	sessionStorage, closeSessions, err := openSessionStorage(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	settings := backendSettings(cfg)
	if err := ensureImageBucket(ctx, settings.S3); err != nil {
		// バケットの作成権限がない構成もあるため、起動は続ける
		slog.Warn("failed to ensure image bucket", slog.String("error", err.Error()))
	}
	source := backend.NewStaticConfigSource(settings)
	consoles := admin.NewRegistry(admin.Options{
		Source:                source,
		Storage:               sessionStorage,
		AutoRefresh:           cfg.AuthAutoRefresh,
		RefreshMargin:         cfg.AuthRefreshMargin,
		HTTPClient:            &http.Client{Timeout: 30 * time.Second},
		Recorder:              collector,
		MaxUploadSize:         cfg.MaxUploadSize,
		BulkDeleteConcurrency: cfg.BulkDeleteConcurrency,
		IdleTimeout:           cfg.ConsoleIdleTimeout,
		Logger:                slog.Default(),
	})
	defer consoles.Close()
	go consoles.Run(ctx, consoleSweepInterval)

	// 4. コンテンツとドメインサービス
	pages, err := content.LoadPages(security.NewContentSanitizer())
	if err != nil {
		return fmt.Errorf("failed to load pages: %w", err)
	}
	renderer, err := handler.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	contactService := contact.NewService(
		repository.NewPostgresContactRepo(db),
		notify.New(cfg.ResendAPIKey, cfg.ContactNotifyFrom, cfg.ContactNotifyTo),
		collector,
		slog.Default(),
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitContact, cfg.RateLimitLogin),
		collector,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		HTTPRecorder:      collector,
		MetricsHandler:    metrics.Handler(promRegistry),
		HealthChecker:     db,
		RateLimiter:       rateLimiter,
		SiteOrigin:        cfg.BaseURL,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		StaticDir:         cfg.StaticDir,

		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		ConsoleCookie: middleware.ConsoleCookieConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			MaxAge:       int(cfg.SessionMaxAge.Seconds()),
		},
		MaxUploadSize: cfg.MaxUploadSize,

		Renderer:      renderer,
		Pages:         pages,
		Roster:        newRosterService(cfg, db),
		ConfigSource:  source,
		Contact:       contactService,
		Consoles:      consoles,
		LoginRecorder: collector,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// 画像アップロードを受け付けるため読み書きとも長めにとる
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
			slog.String("roster_source", cfg.RosterSource),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと保持期間を超えたお問い合わせを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// Redisのセッションはキーの有効期限で消えるため、PostgreSQLの場合のみ削除する
	var sessions cleanup.SessionPurger
	if cfg.SessionStore == "postgres" {
		sessions = repository.NewPostgresAuthSessionRepo(db, cfg.SessionMaxAge)
	}

	promRegistry, collector := newWorkerMetrics()
	job := cleanup.NewCleanupJob(sessions, repository.NewPostgresContactRepo(db), collector, slog.Default())
	job.RetentionDays = cfg.ContactRetentionDays

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(promRegistry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("contact_retention_days", cfg.ContactRetentionDays),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("failed to shut down worker metrics server", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetrics はワーカー用のレジストリとCollectorを生成する。
func newWorkerMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.NewCollector(reg)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
