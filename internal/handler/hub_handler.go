package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/hubgate/internal/middleware"
	"github.com/hitoshi/hubgate/internal/model"
)

// HubHandler はデスクトップハブ向けAPIのHTTPハンドラー。
type HubHandler struct {
	version string
}

// NewHubHandler はHubHandlerを生成する。
func NewHubHandler(version string) *HubHandler {
	return &HubHandler{version: version}
}

// Status はサーバーの稼働状態と認証状態を返す。
// GET /api/hub/status
//
// 認証任意ゲートの内側に配置する。匿名でも応答するが、
// 有効なトークンがあればユーザー情報を付加する。
func (h *HubHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":        "ok",
		"version":       h.version,
		"authenticated": false,
	}

	if user, ok := middleware.UserFromContext(r.Context()); ok {
		resp["authenticated"] = true
		resp["user"] = map[string]string{
			"id":   user.ID,
			"tier": string(user.Tier),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// syncRequest はハブ設定同期リクエストのボディ。
type syncRequest struct {
	Settings map[string]string `json:"settings"`
}

// Sync はハブ設定の同期を受け付ける。
// POST /api/hub/sync
//
// 認証必須ゲートとsyncケーパビリティ認可の内側に配置する。
func (h *HubHandler) Sync(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidArgumentError("invalid JSON body"))
		return
	}

	slog.Info("hub settings synced",
		slog.String("user_id", user.ID),
		slog.Int("settings_count", len(req.Settings)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"synced":    true,
		"user_id":   user.ID,
		"synced_at": time.Now().UTC().Format(time.RFC3339),
	})
}
