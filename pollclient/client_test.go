package pollclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type mockDecrypter struct {
	decryptFn func(ciphertext string) (string, error)
}

func (m *mockDecrypter) Decrypt(ciphertext string) (string, error) {
	if m.decryptFn != nil {
		return m.decryptFn(ciphertext)
	}
	return ciphertext, nil
}

// compile-time interface check
var _ Decrypter = (*mockDecrypter)(nil)

func TestInitiate_SendsActionAndReturnsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/handshake" {
			t.Errorf("request = %s %s, want POST /handshake", r.Method, r.URL.Path)
		}

		var req struct {
			Action     string     `json:"action"`
			ClientMeta ClientMeta `json:"client_meta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Action != "login" {
			t.Errorf("action = %q, want login", req.Action)
		}
		if req.ClientMeta.OS != "darwin" {
			t.Errorf("client_meta.os = %q, want darwin", req.ClientMeta.OS)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(InitiateResult{
			SessionID:   "session-1",
			Status:      StatusPending,
			RedirectURL: "https://accounts.example.com/authorize?state=session-1",
			ExpiresAt:   time.Now().Add(5 * time.Minute),
			PollURL:     "/handshake/session-1",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	result, err := c.Initiate(context.Background(), "login", ClientMeta{OS: "darwin", AppVersion: "1.2.0"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if result.SessionID != "session-1" {
		t.Errorf("session_id = %q, want session-1", result.SessionID)
	}
	if result.Status != StatusPending {
		t.Errorf("status = %q, want pending", result.Status)
	}
	if result.RedirectURL == "" {
		t.Error("expected non-empty redirect_url for login action")
	}
}

func TestPoll_PendingSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/handshake/session-2" {
			t.Errorf("request = %s %s, want GET /handshake/session-2", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-2",
			Action:    "login",
			Status:    StatusPending,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	session, err := c.Poll(context.Background(), "session-2")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if session.Status != StatusPending {
		t.Errorf("status = %q, want pending", session.Status)
	}
	if session.Payload != nil {
		t.Error("pending session should not carry a payload")
	}
}

func TestPoll_CompletedSession_DecryptsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-3",
			Action:    "login",
			Status:    StatusCompleted,
			Payload: map[string]string{
				"user_id":      "u1",
				"token":        "encrypted-blob",
				"token_format": "gcm",
			},
		})
	}))
	defer server.Close()

	decrypter := &mockDecrypter{
		decryptFn: func(ciphertext string) (string, error) {
			if ciphertext != "encrypted-blob" {
				t.Errorf("ciphertext = %q, want encrypted-blob", ciphertext)
			}
			return "plain-token", nil
		},
	}

	c := NewClient(server.URL, WithHTTPClient(server.Client()), WithDecrypter(decrypter))

	session, err := c.Poll(context.Background(), "session-3")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if session.Payload["token"] != "plain-token" {
		t.Errorf("token = %q, want plain-token", session.Payload["token"])
	}
	if _, ok := session.Payload["token_format"]; ok {
		t.Error("token_format should be removed after decryption")
	}
	if session.Payload["user_id"] != "u1" {
		t.Errorf("user_id = %q, want u1", session.Payload["user_id"])
	}
}

func TestPoll_CompletedSession_NoDecrypter_PayloadUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-4",
			Status:    StatusCompleted,
			Payload: map[string]string{
				"token":        "encrypted-blob",
				"token_format": "gcm",
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	session, err := c.Poll(context.Background(), "session-4")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if session.Payload["token"] != "encrypted-blob" {
		t.Errorf("token = %q, payload should be untouched without a decrypter", session.Payload["token"])
	}
}

func TestPoll_DecryptFailure_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-5",
			Status:    StatusCompleted,
			Payload:   map[string]string{"token": "bad", "token_format": "gcm"},
		})
	}))
	defer server.Close()

	decrypter := &mockDecrypter{
		decryptFn: func(ciphertext string) (string, error) {
			return "", fmt.Errorf("authentication failed")
		},
	}

	c := NewClient(server.URL, WithHTTPClient(server.Client()), WithDecrypter(decrypter))

	_, err := c.Poll(context.Background(), "session-5")
	if err == nil {
		t.Fatal("expected decryption error")
	}
}

func TestPoll_ExpiredSession_ReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]string{
			"code":     "SESSION_EXPIRED",
			"message":  "セッションの有効期限が切れました。",
			"category": "handshake",
			"action":   "ハンドシェイクを最初からやり直してください。",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	_, err := c.Poll(context.Background(), "session-gone")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Code != "SESSION_EXPIRED" {
		t.Errorf("code = %q, want SESSION_EXPIRED", apiErr.Code)
	}
	if apiErr.HTTPStatus != http.StatusGone {
		t.Errorf("http status = %d, want %d", apiErr.HTTPStatus, http.StatusGone)
	}
}

func TestPoll_NonJSONErrorBody_ReturnsGenericError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timeout"))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	_, err := c.Poll(context.Background(), "session-x")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("non-JSON error body should not produce *APIError, got %+v", apiErr)
	}
}

func TestComplete_SendsPostRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/handshake/session-6/complete" {
			t.Errorf("request = %s %s, want POST /handshake/session-6/complete", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-6",
			Action:    "login",
			Status:    StatusCompleted,
			Payload:   map[string]string{"user_id": "u1", "token": "tok"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	session, err := c.Complete(context.Background(), "session-6")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if session.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", session.Status)
	}
}

func TestWaitForCompletion_PollsUntilCompleted(t *testing.T) {
	var pollCount atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := pollCount.Add(1)
		status := StatusPending
		var payload map[string]string
		if n >= 3 {
			status = StatusCompleted
			payload = map[string]string{"user_id": "u1", "token": "tok"}
		}
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-7",
			Action:    "login",
			Status:    status,
			Payload:   payload,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := c.WaitForCompletion(ctx, "session-7", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion() error = %v", err)
	}

	if session.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", session.Status)
	}
	if got := pollCount.Load(); got != 3 {
		t.Errorf("poll count = %d, want 3", got)
	}
}

func TestWaitForCompletion_FailedSession_ReturnsWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-8",
			Action:    "login",
			Status:    StatusFailed,
			Payload:   map[string]string{"error": "assertion_rejected"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	session, err := c.WaitForCompletion(context.Background(), "session-8", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion() error = %v", err)
	}
	if session.Status != StatusFailed {
		t.Errorf("status = %q, want failed", session.Status)
	}
	if session.Payload["error"] != "assertion_rejected" {
		t.Errorf("error = %q, want assertion_rejected", session.Payload["error"])
	}
}

func TestWaitForCompletion_ContextTimeout_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{
			SessionID: "session-9",
			Status:    StatusPending,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithHTTPClient(server.Client()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.WaitForCompletion(ctx, "session-9", 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
