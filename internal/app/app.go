// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/credman/internal/config"
	"github.com/hitoshi/credman/internal/database"
	"github.com/hitoshi/credman/internal/expiry"
	"github.com/hitoshi/credman/internal/handler"
	"github.com/hitoshi/credman/internal/journal"
	"github.com/hitoshi/credman/internal/lease"
	"github.com/hitoshi/credman/internal/lock"
	"github.com/hitoshi/credman/internal/logger"
	"github.com/hitoshi/credman/internal/metrics"
	"github.com/hitoshi/credman/internal/middleware"
	"github.com/hitoshi/credman/internal/pool"
	"github.com/hitoshi/credman/internal/provision"
	"github.com/hitoshi/credman/internal/store"
	"github.com/hitoshi/credman/internal/worker/expiryscan"
	recoverpkg "github.com/hitoshi/credman/internal/worker/recover"
)

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
		slog.String("store_base_url", cfg.StoreBaseURL),
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

// newLocker はロック方式を設定に応じて構築する。
// REDIS_URLが設定されている場合はRedisロック（複数インスタンス対応）、
// 未設定の場合はプロセス内ロック（単一インスタンス）を使用する。
func newLocker(cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-process credential lock")
		return lock.NewKeyedMutex(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("using redis credential lock",
		slog.Duration("lock_ttl", cfg.LockTTL),
	)
	closeFn := func() { client.Close() }
	return lock.NewRedisLocker(client, slog.Default(), cfg.LockTTL), closeFn, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ジャーナルDB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. ストアクライアントの初期化
	storeClient := store.NewHTTPClient(
		&http.Client{Timeout: cfg.StoreTimeout},
		slog.Default(),
		collector,
		store.HTTPClientConfig{
			BaseURL:           cfg.StoreBaseURL,
			APIToken:          cfg.StoreAPIToken,
			RequestsPerSecond: cfg.StoreRateLimit,
		},
	)

	// 4. クレデンシャルロックの初期化
	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 5. サービス層の初期化
	journalRepo := journal.NewPostgresRepo(db)
	leaseService := lease.NewService(storeClient, journalRepo, locker, slog.Default(), collector)
	provisionService := provision.NewService(storeClient, slog.Default(), collector)

	// 6. プールの初期化（初回スナップショット取得）
	credPool := pool.New(storeClient, slog.Default())
	if err := credPool.Refresh(context.Background()); err != nil {
		// ストアが一時的に落ちていても起動は継続する。スナップショットは空のまま。
		slog.Warn("プールの初期スナップショット取得に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		ProvisionService: provisionService,
		LeaseService:     leaseService,
		DefaultLeaseDays: cfg.DefaultLeaseDays,

		Pool:    credPool,
		Monitor: expiry.NewMonitor(),
		ExpiryConfig: handler.ExpiryConfig{
			ProviderNearExpiryDays: cfg.ProviderNearExpiryDays,
			ClientNearExpiryDays:   cfg.ClientNearExpiryDays,
		},

		MetricsHandler: metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限監視スキャナとジャーナル復旧ワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. ジャーナルDB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. ストアクライアントの初期化
	storeClient := store.NewHTTPClient(
		&http.Client{Timeout: cfg.StoreTimeout},
		slog.Default(),
		collector,
		store.HTTPClientConfig{
			BaseURL:           cfg.StoreBaseURL,
			APIToken:          cfg.StoreAPIToken,
			RequestsPerSecond: cfg.StoreRateLimit,
		},
	)

	// 4. ワーカーの初期化
	credPool := pool.New(storeClient, slog.Default())
	scanner := expiryscan.NewScanner(
		credPool,
		expiry.NewMonitor(),
		collector,
		slog.Default(),
		cfg.ProviderNearExpiryDays,
		cfg.ClientNearExpiryDays,
	)

	journalRepo := journal.NewPostgresRepo(db)
	recoverer := recoverpkg.NewRecoverer(
		journalRepo, storeClient, collector, slog.Default(), cfg.RecoverMaxAttempts,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("expiry_scan_interval", cfg.ExpiryScanInterval),
		slog.Duration("recover_interval", cfg.RecoverInterval),
	)

	// ジャーナル復旧ワーカーをバックグラウンドで起動
	go recoverer.Start(ctx, cfg.RecoverInterval)

	// 期限監視スキャナをメインgoroutineで実行（ブロッキング）
	scanner.Start(ctx, cfg.ExpiryScanInterval)

	slog.Info("worker stopped gracefully")
	return nil
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
