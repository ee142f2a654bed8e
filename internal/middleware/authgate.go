// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/hubgate/internal/model"
	"github.com/hitoshi/hubgate/internal/policy"
)

// TokenCookieName はブラウザ向けに発行するトークンCookieの名前。
const TokenCookieName = "hub_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// TokenVerifier はトークン検証に必要なインターフェース。
// token.Codecの部分集合として定義する。
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// TokenFailureRecorder はトークン検証失敗のメトリクス記録を抽象化するインターフェース。
type TokenFailureRecorder interface {
	RecordTokenVerifyFailure()
}

// AuthGate はトークン検証によるリクエストの認証・認可ゲート。
// AuthorizationヘッダーのBearerトークン、またはhub_token Cookieを受け付ける。
type AuthGate struct {
	verifier TokenVerifier
	users    UserFinder

	// Metrics はトークン検証失敗を記録する。nilの場合は記録しない。
	Metrics TokenFailureRecorder
}

// NewAuthGate はAuthGateを生成する。
func NewAuthGate(verifier TokenVerifier, users UserFinder) *AuthGate {
	return &AuthGate{verifier: verifier, users: users}
}

// Strict は認証必須のミドルウェアを返す。
// トークンの欠落・無効・期限切れ、ユーザーの未検出・無効化はすべて
// 同一のUNAUTHENTICATEDとして応答し、攻撃者に区別の手がかりを与えない。
func (g *AuthGate) Strict(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := g.resolve(r)
		if user == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// Permissive は認証任意のミドルウェアを返す。
// 有効なトークンがあればユーザーをコンテキストに注入し、
// なければ匿名リクエストとしてそのまま通す。
func (g *AuthGate) Permissive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := g.resolve(r); user != nil {
			r = r.WithContext(ContextWithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability はケーパビリティ認可のミドルウェアを返す。
// Strictの内側に配置する。未認証は401、プラン不足は403を返す。
func (g *AuthGate) RequireCapability(p *policy.Policy, capability policy.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if !p.Allows(user, capability) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(string(capability)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolve はリクエストからトークンを取り出し、有効なユーザーに解決する。
// 解決できない場合はnilを返す。失敗理由は呼び出し側に区別させない。
func (g *AuthGate) resolve(r *http.Request) *model.User {
	tokenString := extractToken(r)
	if tokenString == "" {
		return nil
	}

	userID, err := g.verifier.Verify(tokenString)
	if err != nil {
		if g.Metrics != nil {
			g.Metrics.RecordTokenVerifyFailure()
		}
		return nil
	}

	user, err := g.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to find user for token",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if user == nil || !user.Active {
		return nil
	}
	return user
}

// extractToken はAuthorizationヘッダーまたはCookieからトークンを取り出す。
// ヘッダーを優先する。
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	cookie, err := r.Cookie(TokenCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
