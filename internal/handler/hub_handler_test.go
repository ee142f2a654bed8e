package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/hubgate/internal/middleware"
	"github.com/hitoshi/hubgate/internal/model"
)

func TestHubHandler_Status_Anonymous(t *testing.T) {
	h := NewHubHandler("1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/hub/status", nil)
	w := httptest.NewRecorder()

	h.Status(w, req)

	var got map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["status"] != "ok" {
		t.Errorf("status = %v, want ok", got["status"])
	}
	if got["authenticated"] != false {
		t.Errorf("authenticated = %v, want false", got["authenticated"])
	}
	if _, exists := got["user"]; exists {
		t.Error("anonymous response should not contain user")
	}
}

func TestHubHandler_Status_Authenticated(t *testing.T) {
	h := NewHubHandler("1.0.0")

	user := &model.User{ID: "u1", Tier: model.TierPro, Active: true}
	req := httptest.NewRequest(http.MethodGet, "/api/hub/status", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), user))
	w := httptest.NewRecorder()

	h.Status(w, req)

	var got map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", got["authenticated"])
	}
	userInfo, ok := got["user"].(map[string]interface{})
	if !ok {
		t.Fatal("expected user object in response")
	}
	if userInfo["id"] != "u1" {
		t.Errorf("user id = %v, want u1", userInfo["id"])
	}
}

func TestHubHandler_Sync_ReturnsSyncedResponse(t *testing.T) {
	h := NewHubHandler("1.0.0")

	user := &model.User{ID: "u1", Tier: model.TierPro, Active: true}
	body := bytes.NewBufferString(`{"settings":{"theme":"dark","locale":"ja"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hub/sync", body)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), user))
	w := httptest.NewRecorder()

	h.Sync(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["synced"] != true {
		t.Errorf("synced = %v, want true", got["synced"])
	}
	if got["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", got["user_id"])
	}
}

func TestHubHandler_Sync_WithoutUser_Returns401(t *testing.T) {
	h := NewHubHandler("1.0.0")

	req := httptest.NewRequest(http.MethodPost, "/api/hub/sync", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()

	h.Sync(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestHubHandler_Sync_InvalidJSON_Returns400(t *testing.T) {
	h := NewHubHandler("1.0.0")

	user := &model.User{ID: "u1", Tier: model.TierPro, Active: true}
	req := httptest.NewRequest(http.MethodPost, "/api/hub/sync", bytes.NewBufferString("{bad"))
	req = req.WithContext(middleware.ContextWithUser(req.Context(), user))
	w := httptest.NewRecorder()

	h.Sync(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}
