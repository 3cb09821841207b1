// Package app はコマンドの解析と依存関係のワイヤリングを行うエントリーポイント。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/sequelprompt/internal/auth"
	"github.com/hitoshi/sequelprompt/internal/config"
	"github.com/hitoshi/sequelprompt/internal/database"
	"github.com/hitoshi/sequelprompt/internal/generation"
	"github.com/hitoshi/sequelprompt/internal/handler"
	"github.com/hitoshi/sequelprompt/internal/history"
	"github.com/hitoshi/sequelprompt/internal/logger"
	"github.com/hitoshi/sequelprompt/internal/metrics"
	"github.com/hitoshi/sequelprompt/internal/middleware"
	"github.com/hitoshi/sequelprompt/internal/model"
	"github.com/hitoshi/sequelprompt/internal/provider"
	"github.com/hitoshi/sequelprompt/internal/quota"
	"github.com/hitoshi/sequelprompt/internal/repository"
	"github.com/hitoshi/sequelprompt/internal/user"
)

// Version はビルド時に -ldflags "-X" で上書きされる。
var Version = "dev"

const (
	dbPingTimeout       = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
	providerClientGrace = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envがあれば環境変数に取り込む（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck / version は軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandVersion:
		if w == nil {
			w = os.Stdout
		}
		_, err := fmt.Fprintf(w, "sequelprompt %s\n", Version)
		return err
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("version", Version),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
		slog.String("provider", cfg.Provider),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", redactDatabaseURL(cfg.DatabaseURL)),
	)
	logSchemaVersion(cfg.DatabaseURL)

	// 2. 依存関係のワイヤリング
	router, limiter := buildHandler(cfg, db, slog.Default(), prometheus.NewRegistry())
	defer limiter.Stop()

	// 3. HTTPサーバーの起動
	// 書き込みタイムアウトはプロバイダ待ちより長くする
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildHandler はリポジトリからルーターまでを組み立てる。
// 返すRateLimiterはサーバー停止時にStopすること。
func buildHandler(cfg *config.Config, db *sql.DB, log *slog.Logger, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter) {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	generationRepo := repository.NewPostgresGenerationRepo(db)
	txRunner := repository.NewPostgresTxRunner(db)

	// ドメインサービス
	limits := quota.DefaultLimits(cfg.FreeDailyLimit)
	hasher := user.NewBcryptHasher(cfg.BcryptCost)
	store := user.NewStore(userRepo, hasher, user.StoreConfig{
		InitialPlan:  model.PlanFree,
		InitialLimit: limits.ForPlan(model.PlanFree),
	})
	tokens := auth.NewTokenAuthenticator([]byte(cfg.JWTSecret), cfg.TokenTTL)
	authService := auth.NewService(store, tokens, hasher)

	ledger := history.NewLedger(generationRepo, history.Config{MaxPageSize: cfg.HistoryMaxPageSize})

	// メトリクス
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	dispatcher := generation.NewDispatcher(generation.Deps{
		Users:    store,
		Quota:    quota.NewLedger(store, nil),
		History:  ledger,
		Tx:       txRunner,
		Provider: newProvider(cfg, log),
		Metrics:  collector,
	}, generation.Config{
		ProviderTimeout: cfg.ProviderTimeout,
		CommitAttempts:  cfg.CommitRetryAttempts,
	})

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral, cfg.RateLimitGeneration))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		TokenResolver:      tokens,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		Metrics:            collector,
		MetricsHandler:     metrics.Handler(reg),

		AuthService: authService,
		Dispatcher:  dispatcher,
		History:     ledger,
		DB:          db,
		Version:     Version,
		Debug:       cfg.IsDevelopment(),
	})

	return router, limiter
}

// newProvider は設定に応じた生成プロバイダを返す。
func newProvider(cfg *config.Config, log *slog.Logger) provider.Provider {
	if cfg.Provider == config.ProviderMock {
		log.Warn("using mock generation provider", slog.Duration("delay", cfg.MockDelay))
		return provider.NewMockProvider(cfg.MockDelay)
	}
	return provider.NewOpenAIProvider(provider.OpenAIConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		Model:           cfg.OpenAIModel,
		Temperature:     cfg.OpenAITemperature,
		MaxTokens:       cfg.OpenAIMaxTokens,
		CostPer1KTokens: cfg.OpenAICostPer1KTokens,
	}, providerHTTPClient(cfg), log)
}

// providerHTTPClient はプロバイダ用のHTTPクライアントを返す。
// 打ち切りはディスパッチャのコンテキスト期限で行うため、クライアント側の期限はそれより長くとる。
func providerHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.ProviderTimeout + providerClientGrace}
}

// logSchemaVersion は適用済みスキーマバージョンをログに出力する。
// 読み取りに失敗しても起動は継続する。
func logSchemaVersion(databaseURL string) {
	version, dirty, err := database.SchemaVersion(databaseURL)
	if err != nil {
		slog.Warn("failed to read schema version", slog.String("error", err.Error()))
		return
	}
	if dirty {
		slog.Warn("database schema is dirty", slog.Uint64("schema_version", uint64(version)))
		return
	}
	slog.Info("database schema version", slog.Uint64("schema_version", uint64(version)))
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", redactDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	logSchemaVersion(cfg.DatabaseURL)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// redactDatabaseURL はデータベースURLのパスワードを伏せ字にする。
// URL形式でない接続文字列は全体を伏せる。
func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
