// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hubgate/internal/handshake"
	"github.com/hitoshi/hubgate/internal/middleware"
	"github.com/hitoshi/hubgate/internal/model"
)

// HandshakeServiceInterface はハンドシェイクハンドラーが必要とするサービスインターフェース。
type HandshakeServiceInterface interface {
	Initiate(ctx context.Context, action model.HandshakeAction, meta model.ClientMeta) (*handshake.InitiateResult, error)
	IngestCallback(ctx context.Context, sessionID string, assertion handshake.Assertion) (*handshake.Result, error)
	Poll(ctx context.Context, sessionID string) (*handshake.Result, error)
	Complete(ctx context.Context, sessionID string) (*handshake.Result, error)
}

// HandshakeHandler はハンドシェイクAPIのHTTPハンドラー。
type HandshakeHandler struct {
	service HandshakeServiceInterface
}

// NewHandshakeHandler はHandshakeHandlerを生成する。
func NewHandshakeHandler(service HandshakeServiceInterface) *HandshakeHandler {
	return &HandshakeHandler{service: service}
}

// initiateRequest はハンドシェイク開始リクエストのボディ。
type initiateRequest struct {
	Action     string `json:"action"`
	ClientMeta struct {
		AppVersion string `json:"app_version"`
		OS         string `json:"os"`
		HardwareID string `json:"hardware_id"`
	} `json:"client_meta"`
}

// initiateResponse はハンドシェイク開始レスポンスのボディ。
type initiateResponse struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	PollURL     string    `json:"poll_url"`
}

// sessionResponse はポーリング・コールバック・完了通知レスポンスのボディ。
type sessionResponse struct {
	SessionID string            `json:"session_id"`
	Action    string            `json:"action"`
	Status    string            `json:"status"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// callbackRequest はコールバック取り込みリクエストのボディ。
type callbackRequest struct {
	Code string            `json:"code,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// Initiate は新しいハンドシェイクを開始する。
// POST /handshake
func (h *HandshakeHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidArgumentError("invalid JSON body"))
		return
	}

	meta := model.ClientMeta{
		AppVersion: req.ClientMeta.AppVersion,
		OS:         req.ClientMeta.OS,
		HardwareID: req.ClientMeta.HardwareID,
	}

	result, err := h.service.Initiate(r.Context(), model.HandshakeAction(req.Action), meta)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(initiateResponse{
		SessionID:   result.SessionID,
		Status:      string(result.Status),
		RedirectURL: result.RedirectURL,
		ExpiresAt:   result.ExpiresAt,
		PollURL:     "/handshake/" + result.SessionID,
	})
}

// Poll はセッションの現在状態を返す。
// GET /handshake/{id}
func (h *HandshakeHandler) Poll(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	result, err := h.service.Poll(r.Context(), sessionID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeSessionResponse(w, result)
}

// Callback は外部アサーションを取り込み、セッションを解決する。
// POST /handshake/{id}/callback
func (h *HandshakeHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidArgumentError("invalid JSON body"))
		return
	}

	result, err := h.service.IngestCallback(r.Context(), sessionID, handshake.Assertion{
		Code: req.Code,
		Data: req.Data,
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeSessionResponse(w, result)
}

// Complete は開始側の結果受領を記録する。
// POST /handshake/{id}/complete
func (h *HandshakeHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	result, err := h.service.Complete(r.Context(), sessionID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeSessionResponse(w, result)
}

// writeSessionResponse はセッション状態をJSONで書き込む。
func writeSessionResponse(w http.ResponseWriter, result *handshake.Result) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessionResponse{
		SessionID: result.SessionID,
		Action:    string(result.Action),
		Status:    string(result.Status),
		Payload:   result.Payload,
	}); err != nil {
		slog.Error("failed to encode session response", slog.String("error", err.Error()))
	}
}
