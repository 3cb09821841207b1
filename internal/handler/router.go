package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/sequelprompt/internal/metrics"
	"github.com/hitoshi/sequelprompt/internal/middleware"
	"github.com/hitoshi/sequelprompt/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	TokenResolver      middleware.TokenResolver
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Metrics            metrics.MetricsCollector
	MetricsHandler     http.Handler

	// ハンドラー依存
	AuthService AuthServiceInterface
	Dispatcher  GenerationDispatcher
	History     HistoryReader
	DB          Pinger
	Version     string

	// Debug が真の場合、エラーレスポンスに内部原因を含める（開発モード）
	Debug bool
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS
//	  → RateLimit(General, IP単位) → BearerAuth → RateLimit(Generation, ユーザー単位)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	errs := responder{debug: deps.Debug}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errs.writeAPIError(w, model.NewRouteNotFoundError(r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errs.writeAPIErrorWithStatus(w, http.StatusMethodNotAllowed, model.NewRouteNotFoundError(r.Method, r.URL.Path))
	})

	r.Get("/health", NewHealthHandler(deps.DB, deps.Version))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Debug)
	genHandler := NewGenerationHandler(deps.Dispatcher, deps.History, deps.Debug)
	bearer := middleware.NewBearerAuthMiddleware(deps.TokenResolver)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証ルート
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.With(bearer).Get("/me", authHandler.Me)
		})

		// 生成ルート（すべて認証必須）
		r.Route("/generation", func(r chi.Router) {
			r.Use(bearer)
			r.With(deps.RateLimiter.GenerationMiddleware()).Post("/single", genHandler.GenerateSingle)
			r.With(deps.RateLimiter.GenerationMiddleware()).Post("/agentic", genHandler.GenerateAgentic)
			r.Get("/history", genHandler.History)
		})
	})

	return r
}
