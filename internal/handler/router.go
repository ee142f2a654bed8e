package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hubgate/internal/middleware"
	"github.com/hitoshi/hubgate/internal/policy"
	"github.com/hitoshi/hubgate/internal/secure"
	"github.com/prometheus/client_golang/prometheus"

	metricspkg "github.com/hitoshi/hubgate/internal/metrics"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	AuthGate          *middleware.AuthGate
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// ハンドシェイク
	HandshakeService HandshakeServiceInterface

	// 認証
	AuthConfig    AuthHandlerConfig
	PayloadCipher *secure.PayloadCipher

	// 認可
	Policy *policy.Policy

	// メトリクス公開（nilの場合は/metricsを公開しない）
	MetricsGatherer prometheus.Gatherer

	// バージョン文字列（ステータス応答用）
	Version string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Permissive(AuthGate) → RateLimit
//
// ハンドシェイクルート（/handshake/*）とコールバック中継（/auth/google/callback）は
// 未認証で到達できる。/auth/meと/api/hub/syncは認証必須ゲートの内側に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	handshakeHandler := NewHandshakeHandler(deps.HandshakeService)
	authHandler := NewAuthHandler(deps.HandshakeService, deps.PayloadCipher, deps.AuthConfig)
	hubHandler := NewHubHandler(deps.Version)

	// --- 運用エンドポイント ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metricspkg.Handler(deps.MetricsGatherer))
	}

	// --- 認証不要のルート ---

	// ハンドシェイクAPI（デスクトップハブとのポーリング契約）
	r.Route("/handshake", func(r chi.Router) {
		// POST /handshake - 開始（IP単位の専用レート制限を追加）
		r.With(deps.RateLimiter.HandshakeInitiationMiddleware()).Post("/", handshakeHandler.Initiate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handshakeHandler.Poll)
			r.Post("/callback", handshakeHandler.Callback)
			r.Post("/complete", handshakeHandler.Complete)
		})
	})

	// ブラウザ側のOAuthコールバック中継
	r.Get("/auth/google/callback", authHandler.Callback)
	r.Post("/auth/logout", authHandler.Logout)

	// ブラウザフロントエンド用のCSRFトークン取得
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Strict(AuthGate) → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthGate.Strict)
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/auth/me", authHandler.Me)

		// POST /api/hub/sync - syncケーパビリティが必要
		r.With(deps.AuthGate.RequireCapability(deps.Policy, policy.CapabilitySync)).
			Post("/api/hub/sync", hubHandler.Sync)
	})

	// --- 認証任意のルート ---
	// 匿名でも応答し、有効なトークンがあればユーザー情報を付加する
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthGate.Permissive)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/hub/status", hubHandler.Status)
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
