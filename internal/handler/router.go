package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/credman/internal/expiry"
	"github.com/hitoshi/credman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// クレデンシャル操作
	ProvisionService ProvisionServiceInterface
	LeaseService     LeaseServiceInterface
	DefaultLeaseDays int

	// プール照会
	Pool         PoolInterface
	Monitor      *expiry.Monitor
	ExpiryConfig ExpiryConfig

	// メトリクス公開（nilの場合は/metricsを公開しない）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → CallerID → Logging → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCallerIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	credHandler := NewCredentialHandler(deps.ProvisionService, deps.LeaseService, deps.DefaultLeaseDays)
	poolHandler := NewPoolHandler(deps.Pool, deps.Monitor, deps.ExpiryConfig)

	// --- レート制限の外のルート ---

	r.Get("/health", HealthCheck)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)、更新系は RateLimit(Mutation) を追加
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/credentials", func(r chi.Router) {
			r.Get("/", poolHandler.List)

			// GET /api/credentials/expiring - 期限レポート（/{id}より先に定義）
			r.Get("/expiring", poolHandler.ListExpiring)

			// POST /api/credentials/provision - 一括登録（更新系レート制限を追加）
			r.With(deps.RateLimiter.MutationMiddleware()).Post("/provision", credHandler.Provision)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", poolHandler.Get)

				// 割当・回収・削除はストアへのdelete+createを伴う更新系
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/assign", credHandler.Assign)
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/recycle", credHandler.Recycle)
				r.With(deps.RateLimiter.MutationMiddleware()).Delete("/", credHandler.Remove)
			})
		})

		// プール管理
		r.Route("/api/pool", func(r chi.Router) {
			r.Get("/stats", poolHandler.Stats)
			r.Post("/refresh", poolHandler.Refresh)
		})
	})

	return r
}

// HealthCheck はヘルスチェックエンドポイント。
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
