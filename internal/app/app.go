package app

import (
	"context"
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

	"github.com/hitoshi/helpdesk/internal/auth"
	"github.com/hitoshi/helpdesk/internal/config"
	"github.com/hitoshi/helpdesk/internal/conversation"
	"github.com/hitoshi/helpdesk/internal/database"
	"github.com/hitoshi/helpdesk/internal/directory"
	"github.com/hitoshi/helpdesk/internal/handler"
	"github.com/hitoshi/helpdesk/internal/logger"
	"github.com/hitoshi/helpdesk/internal/metrics"
	"github.com/hitoshi/helpdesk/internal/model"
	"github.com/hitoshi/helpdesk/internal/repository"
	"github.com/hitoshi/helpdesk/internal/security"
	"github.com/hitoshi/helpdesk/internal/worker/cleanup"
	"github.com/hitoshi/helpdesk/internal/worker/queuestats"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に応じてログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
// SIGINTまたはSIGTERMシグナルを受信すると実行中のモードを停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
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

	// token はトークンのみを出力する
	if cmd == CommandToken {
		return runToken(w, cfg, args[1:])
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.Store),
	)

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// backend はストアと、その疎通確認・解放処理をまとめたもの。
type backend struct {
	store  repository.Store
	users  repository.UserRepository
	health handler.HealthChecker
	close  func() error
}

// openBackend は設定に応じたストアを開く。
// PostgreSQLの場合は接続を確認し、失敗した場合はエラーを返す。
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		mem := repository.NewMemoryStore()
		return &backend{
			store: mem,
			users: mem,
			close: func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	return &backend{
		store:  repository.NewPostgresStore(db),
		users:  repository.NewPostgresUserRepo(db),
		health: db,
		close:  db.Close,
	}, nil
}

// openDirectory はユーザーディレクトリを構築する。
// REDIS_URLが設定されている場合はRedisをリードスルーキャッシュとして使用する。
// Redisに接続できない場合はキャッシュなしで継続する。
func openDirectory(ctx context.Context, cfg *config.Config, users repository.UserRepository) (*directory.Directory, func()) {
	var cache directory.Cache
	closeCache := func() {}

	if cfg.RedisURL != "" {
		redisCache, err := directory.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("user cache disabled",
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("user cache enabled", slog.Duration("ttl", cfg.UserCacheTTL))
			cache = redisCache
			closeCache = func() {
				if err := redisCache.Close(); err != nil {
					slog.Error("failed to close user cache", slog.String("error", err.Error()))
				}
			}
		}
	}

	return directory.New(users, cache, cfg.UserCacheTTL, slog.Default()), closeCache
}

// newRegistry はプロセス単位のPrometheusレジストリとコレクターを生成する。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// 2. メトリクス
	reg, collector := newRegistry()

	// 3. ユーザーディレクトリ
	dir, closeDir := openDirectory(ctx, cfg, b.users)
	defer closeDir()

	// 4. ドメインサービスの初期化
	svc := conversation.NewService(b.store, dir, security.NewBodySanitizer(), collector, slog.Default())
	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Authenticator:     tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
		HTTPRecorder:      collector,
		HealthChecker:     b.health,
		MetricsHandler:    metrics.Handler(reg),
		AdminService:      svc,
		UserService:       svc,
	}
	router := handler.NewRouter(deps)

	// インメモリストアは他プロセスと共有できないため、ワーカー処理を同一プロセスで実行する
	if cfg.Store == config.StoreMemory {
		startBackgroundJobs(ctx, cfg, b.store, collector)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// startBackgroundJobs は待ち行列サンプラーと冪等キー消去ジョブをバックグラウンドで起動する。
// いずれもctxのキャンセルで停止する。
func startBackgroundJobs(ctx context.Context, cfg *config.Config, store repository.Store, collector *metrics.Collector) {
	cleanupJob := cleanup.NewCleanupJob(store.Messages(), collector, slog.Default())
	cleanupJob.KeyTTL = cfg.IdempotencyKeyTTL
	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	sampler := queuestats.NewSampler(store.Conversations(), collector, slog.Default())
	go sampler.Start(ctx, cfg.QueueStatsInterval)
}

// runWorker はワーカーモードで起動する。
// 待ち行列サンプラーと冪等キー消去ジョブを実行し、/metricsを公開する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.Store == config.StoreMemory {
		return errors.New("worker requires STORE=postgres: the in-memory store is not shared between processes")
	}

	// 1. ストア
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// 2. メトリクス
	reg, collector := newRegistry()
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("queue_stats_interval", cfg.QueueStatsInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("idempotency_key_ttl", cfg.IdempotencyKeyTTL),
	)

	// 3. 冪等キー消去ジョブをバックグラウンドで起動
	cleanupJob := cleanup.NewCleanupJob(b.store.Messages(), collector, slog.Default())
	cleanupJob.KeyTTL = cfg.IdempotencyKeyTTL
	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	// 4. 待ち行列サンプラーをメインgoroutineで実行（ブロッキング）
	sampler := queuestats.NewSampler(b.store.Conversations(), collector, slog.Default())
	sampler.Start(ctx, cfg.QueueStatsInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.Store == config.StoreMemory {
		return errors.New("migrate requires STORE=postgres")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runToken は署名付きトークンを発行してwに出力する。
// 引数は <admin|user> <id> [name] の形式。
func runToken(w io.Writer, cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: helpdesk token <admin|user> <id> [name]")
	}

	identity := model.Identity{
		Role: model.Role(args[0]),
		ID:   args[1],
	}
	if len(args) > 2 {
		identity.Name = args[2]
	}

	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})
	token, err := tokens.Issue(identity)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	_, err = fmt.Fprintln(w, token)
	return err
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
