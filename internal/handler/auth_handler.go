package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hubgate/internal/handshake"
	"github.com/hitoshi/hubgate/internal/middleware"
	"github.com/hitoshi/hubgate/internal/model"
	"github.com/hitoshi/hubgate/internal/secure"
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
	TokenMaxAge  int // トークンCookieの有効期間（秒）
}

// AuthHandler はブラウザ側の認証フローを中継するHTTPハンドラー。
// デスクトップハブが開始したログインハンドシェイクのOAuthコールバックを
// 受け取り、ハンドシェイクの解決へ引き渡す。
type AuthHandler struct {
	service HandshakeServiceInterface
	cipher  *secure.PayloadCipher // nilの場合はペイロードを平文として扱う
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service HandshakeServiceInterface, cipher *secure.PayloadCipher, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cipher:  cipher,
		config:  config,
	}
}

// Callback はIdPからのOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
//
// stateパラメータにはハンドシェイク開始時に発行されたセッションIDが入る。
// ブラウザとデスクトップハブを直接つなぐ経路はないため、ここで
// アサーションをセッションに取り込み、ハブ側はポーリングで結果を受け取る。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. パラメータの取得
	sessionID := r.URL.Query().Get("state")
	if sessionID == "" {
		middleware.WriteAPIError(w, model.NewInvalidArgumentError("missing state parameter"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteAPIError(w, model.NewInvalidArgumentError("missing authorization code"))
		return
	}

	// 2. アサーションの取り込み
	result, err := h.service.IngestCallback(r.Context(), sessionID, handshake.Assertion{Code: code})
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, err)
		return
	}

	// 3. 検証失敗はブラウザ側にも失敗ページを見せる
	if result.Status != model.StatusCompleted {
		http.Redirect(w, r, h.config.BaseURL+"/auth/failed", http.StatusTemporaryRedirect)
		return
	}

	// 4. ブラウザ側にもトークンCookieを設定（HTTP Only）
	if token, ok := h.cookieToken(result.Payload); ok {
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.TokenCookieName,
			Value:    token,
			Path:     "/",
			Domain:   h.config.CookieDomain,
			MaxAge:   h.config.TokenMaxAge,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	// 5. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はトークンCookieを破棄する。
// POST /auth/logout
//
// トークンは自己完結型のため、サーバー側に破棄する状態はない。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
//
// 認証必須ゲートの内側に配置する。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"tier":  string(user.Tier),
	})
}

// cookieToken はペイロードからCookieに設定するトークンを取り出す。
// ペイロードが暗号化されている場合は復号する。
func (h *AuthHandler) cookieToken(payload map[string]string) (string, bool) {
	token := payload["token"]
	if token == "" {
		return "", false
	}
	if payload["token_format"] == "" {
		return token, true
	}
	if h.cipher == nil {
		slog.Warn("encrypted payload token without cipher, skipping cookie")
		return "", false
	}
	decrypted, err := h.cipher.Decrypt(token)
	if err != nil {
		slog.Error("failed to decrypt payload token", slog.String("error", err.Error()))
		return "", false
	}
	return decrypted, true
}
