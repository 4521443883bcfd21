package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/helpdesk/internal/middleware"
	"github.com/hitoshi/helpdesk/internal/model"
)

// HealthChecker はバックエンドの疎通確認を行うインターフェース。
// *sql.DBはこのインターフェースを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 会話
	AdminService AdminServiceInterface
	UserService  UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → Metrics → SecurityHeaders → CORS → Identity(グループ単位)
//
// /health と /metrics は識別情報を必要としない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	adminHandler := NewAdminHandler(deps.AdminService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 識別情報不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 管理者ルート ---
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.Authenticator, model.RoleAdmin))

		r.Get("/inbox", adminHandler.ListInbox)
		r.Get("/queue", adminHandler.ListPendingQueue)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/claim", adminHandler.Claim)
			r.Get("/messages", adminHandler.FetchMessages)
			r.Post("/messages", adminHandler.AppendMessage)
		})
	})

	// --- 利用者ルート ---
	r.Route("/api/user", func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.Authenticator, model.RoleUser))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", userHandler.ListMyConversations)
			r.Post("/", userHandler.StartConversation)

			r.Get("/{id}/messages", userHandler.FetchMessages)
			r.Post("/{id}/messages", userHandler.Reply)
		})
	})

	return r
}

// healthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// checkerがnilの場合は常に200を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
