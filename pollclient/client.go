// Package pollclient はデスクトップハブが組み込むハンドシェイクAPIクライアントを提供する。
// ハンドシェイクの開始、ポーリング、完了通知と、共有鍵によるペイロード復号を含む。
// ポーリング間隔と全体のタイムアウトは呼び出し側がcontextで制御する。
package pollclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// セッション状態の値。サーバー側の表現と一致する。
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// ペイロードのトークン形式キー。暗号化済みトークンの判別に使う。
const (
	payloadKeyToken       = "token"
	payloadKeyTokenFormat = "token_format"
	tokenFormatEncrypted  = "gcm"
)

// DefaultPollInterval はWaitForCompletionの推奨ポーリング間隔。
const DefaultPollInterval = 2 * time.Second

// Decrypter は暗号化ペイロードの復号を抽象化するインターフェース。
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// APIError はサーバーが返す統一エラーフォーマット。
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ClientMeta はハンドシェイク開始時に送信するクライアント情報。
type ClientMeta struct {
	AppVersion string `json:"app_version,omitempty"`
	OS         string `json:"os,omitempty"`
	HardwareID string `json:"hardware_id,omitempty"`
}

// InitiateResult はハンドシェイク開始レスポンス。
type InitiateResult struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	PollURL     string    `json:"poll_url"`
}

// Session はセッションの現在状態。
type Session struct {
	SessionID string            `json:"session_id"`
	Action    string            `json:"action"`
	Status    string            `json:"status"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Client はハンドシェイクAPIのHTTPクライアント。
// セッション状態に対しては読み取り専用で、状態遷移はサーバー側だけが行う。
type Client struct {
	httpClient *http.Client
	baseURL    string
	decrypter  Decrypter
}

// Option はClientの構成オプション。
type Option func(*Client)

// WithDecrypter は完了ペイロードの復号器を設定する。
// 未設定の場合、暗号化されたペイロードはそのまま返される。
func WithDecrypter(d Decrypter) Option {
	return func(c *Client) { c.decrypter = d }
}

// WithHTTPClient は使用するHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはハンドシェイクAPIのルート（末尾スラッシュなし）。
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate は新しいハンドシェイクセッションを開始する。
func (c *Client) Initiate(ctx context.Context, action string, meta ClientMeta) (*InitiateResult, error) {
	reqBody := struct {
		Action     string     `json:"action"`
		ClientMeta ClientMeta `json:"client_meta"`
	}{Action: action, ClientMeta: meta}

	var result InitiateResult
	if err := c.do(ctx, http.MethodPost, "/handshake", reqBody, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Poll はセッションの現在状態を取得する。
// 完了済みセッションのペイロードに暗号化トークンが含まれる場合、
// 復号器が設定されていれば復号して返す。
func (c *Client) Poll(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/handshake/"+sessionID, nil, &session); err != nil {
		return nil, err
	}

	if session.Status == StatusCompleted {
		if err := c.decryptPayload(&session); err != nil {
			return nil, err
		}
	}
	return &session, nil
}

// Complete は結果の受領をサーバーへ通知する。
// 完了済みセッションに対して冪等であり、複数回呼んでも同じ結果を返す。
func (c *Client) Complete(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/handshake/"+sessionID+"/complete", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// WaitForCompletion はセッションが決着（completedまたはfailed）するまでポーリングする。
// intervalが0以下の場合はDefaultPollIntervalを使用する。
// 全体のタイムアウトはctxで制御する。セッションの期限切れはエラーとして返る。
func (c *Client) WaitForCompletion(ctx context.Context, sessionID string, interval time.Duration) (*Session, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		session, err := c.Poll(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		switch session.Status {
		case StatusCompleted, StatusFailed:
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// decryptPayload はペイロード内の暗号化トークンを復号して平文に差し替える。
func (c *Client) decryptPayload(session *Session) error {
	if c.decrypter == nil || session.Payload == nil {
		return nil
	}
	if session.Payload[payloadKeyTokenFormat] != tokenFormatEncrypted {
		return nil
	}

	plaintext, err := c.decrypter.Decrypt(session.Payload[payloadKeyToken])
	if err != nil {
		return fmt.Errorf("failed to decrypt session payload: %w", err)
	}

	session.Payload[payloadKeyToken] = plaintext
	delete(session.Payload, payloadKeyTokenFormat)
	return nil
}

// do はJSONリクエストを実行し、レスポンスをoutへデコードする。
// 2xx以外のレスポンスは統一エラーフォーマットとしてパースし*APIErrorを返す。
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}
