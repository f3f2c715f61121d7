package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/mdbsite/internal/backend"
	"github.com/hitoshi/mdbsite/internal/middleware"
	"github.com/hitoshi/mdbsite/internal/roster"
)

// maxFormBody はアップロード以外のフォームの最大サイズ。
const maxFormBody = 64 << 10

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	RateLimiter       *middleware.RateLimiter
	SiteOrigin        string
	TrustProxyHeaders bool
	StaticDir         string

	CSRF          middleware.CSRFConfig
	ConsoleCookie middleware.ConsoleCookieConfig
	MaxUploadSize int64

	Renderer      *Renderer
	Pages         PageBodies
	Roster        roster.Service
	ConfigSource  backend.ConfigSource
	Contact       ContactSubmitter
	Consoles      Consoles
	LoginRecorder LoginRecorder
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → (RealIP)
//	  /api/*      : SameOrigin → RateLimit(contact)
//	  公開ページ  : BodyLimit → CSRF → RateLimit(contact)
//	  管理画面    : BodyLimit → Console → CSRF → RateLimit(login)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}

	pageHandler := NewPageHandler(deps.Renderer, deps.Pages, deps.Roster)
	configHandler := NewConfigHandler(deps.ConfigSource)
	contactHandler := NewContactHandler(deps.Contact, deps.Renderer, deps.Pages)
	adminHandler := NewAdminHandler(deps.Consoles, deps.Roster, deps.Renderer, AdminHandlerConfig{
		Cookie:        deps.ConsoleCookie,
		MaxUploadSize: deps.MaxUploadSize,
	}, deps.LoginRecorder)

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticDir))))
	}

	// --- ブラウザのスクリプト向けAPI（同一オリジンのみ） ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSameOriginMiddleware(deps.SiteOrigin))

		r.Get("/supabase-config", configHandler.Get)
		r.With(deps.RateLimiter.ContactMiddleware()).Post("/contact", contactHandler.Submit)
		r.Get("/carousel", pageHandler.Carousel)
	})

	// --- 公開ページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBodyLimitMiddleware(maxFormBody))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", pageHandler.Home)
		r.Get("/about", pageHandler.About)
		r.Get("/services", pageHandler.Services)
		r.Get("/projects", pageHandler.Projects)
		r.Get("/contact", contactHandler.Form)
		r.With(deps.RateLimiter.ContactMiddleware()).Post("/contact", contactHandler.SubmitForm)
	})

	// --- 管理画面 ---
	r.Group(func(r chi.Router) {
		// 1回のアップロードで上限サイズのファイルを4件まで受け付ける。1件ごとの上限はダッシュボードが検査する
		r.Use(middleware.NewBodyLimitMiddleware(deps.MaxUploadSize*4 + 1<<20))
		r.Use(middleware.NewConsoleMiddleware(deps.ConsoleCookie))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/admin-login", adminHandler.LoginForm)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/admin-login", adminHandler.Login)
		r.Post("/admin-logout", adminHandler.Logout)

		r.Route(dashboardPath, func(r chi.Router) {
			r.Get("/", adminHandler.Dashboard)
			r.Post("/refresh", adminHandler.Refresh)

			r.Route("/images", func(r chi.Router) {
				r.Post("/", adminHandler.Upload)
				r.Post("/delete", adminHandler.Delete)
				r.Post("/bulk-delete", adminHandler.BulkDelete)
				r.Post("/clear", adminHandler.Clear)
			})

			r.Route("/roster/{kind}", func(r chi.Router) {
				r.Post("/", adminHandler.AddMember)
				r.Post("/{id}", adminHandler.UpdateMember)
				r.Post("/{id}/delete", adminHandler.RemoveMember)
			})
		})
	})

	return r
}
