// Package handshake はブラウザとデスクトップハブをつなぐ
// ハンドシェイクの調停を提供する。セッションの作成、コールバックの取り込み、
// ポーリング応答、完了通知を担う。
//
// セッションIDは両者が共有する唯一の秘密であり、推測不能性と短いTTLが
// ハンドシェイクのセキュリティ境界のすべてとなる。
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/hubgate/internal/auth"
	"github.com/hitoshi/hubgate/internal/model"
	"github.com/hitoshi/hubgate/internal/repository"
	"github.com/hitoshi/hubgate/internal/secure"
)

// 失敗遷移のペイロードに記録する失敗種別。
const (
	// FailureAssertionRejected はIdPがアサーションを拒否したことを表す。
	FailureAssertionRejected = "assertion_rejected"
	// FailureIdentityInactive は無効化済みユーザーによるログイン試行を表す。
	FailureIdentityInactive = "identity_inactive"
	// FailureEmptyAssertion は空のアサーションを表す。
	FailureEmptyAssertion = "empty_assertion"
)

// ペイロードのキー。completedセッションのペイロードはトークン導出に十分な
// 情報を常に含む。
const (
	payloadKeyUserID      = "user_id"
	payloadKeyToken       = "token"
	payloadKeyTokenFormat = "token_format"
	payloadKeyError       = "error"

	tokenFormatEncrypted = "gcm"
)

// Assertion は外部から届いたアイデンティティアサーション。
// 検証されるまでは一切信頼しない不透明な入力として扱う。
type Assertion struct {
	Code string            // loginアクション: IdPの認可コード
	Data map[string]string // その他のアクション: アクション固有データ
}

// TokenMinter はトークン発行のインターフェース。
// token.Codecの部分集合として定義する。
type TokenMinter interface {
	Mint(user *model.User) (string, error)
}

// MetricsRecorder はハンドシェイクのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordHandshakeInitiated(action string)
	RecordHandshakeResolved(action, status string)
	RecordPoll(status string)
	RecordHandshakeLatency(duration time.Duration)
}

// noopMetrics はメトリクス未設定時のフォールバック。
type noopMetrics struct{}

func (noopMetrics) RecordHandshakeInitiated(string)        {}
func (noopMetrics) RecordHandshakeResolved(string, string) {}
func (noopMetrics) RecordPoll(string)                      {}
func (noopMetrics) RecordHandshakeLatency(time.Duration)   {}

// Config はCoordinatorの設定。
type Config struct {
	// TTL はセッションの作成から失効までの時間。
	// 対話的なOAuthラウンドトリップに足り、かつ漏洩したセッションIDの
	// 露出を抑えられる分単位の長さを指定する。
	TTL time.Duration
}

// DefaultTTL はセッションTTLのデフォルト値。
const DefaultTTL = 5 * time.Minute

// Coordinator はハンドシェイクの状態機械を駆動する。
// 状態遷移はすべてSessionRepository.Transitionの条件付きUPDATEを通るため、
// 重複したコールバック配送は高々1回しか副作用を起こさない。
type Coordinator struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	provider auth.Provider
	minter   TokenMinter
	cipher   *secure.PayloadCipher // nilの場合はペイロードを平文で返す
	metrics  MetricsRecorder
	config   Config
}

// NewCoordinator はCoordinatorを生成する。
// cipherとmetricsはnilを許容する。
func NewCoordinator(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	provider auth.Provider,
	minter TokenMinter,
	cipher *secure.PayloadCipher,
	metrics MetricsRecorder,
	config Config,
) *Coordinator {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Coordinator{
		sessions: sessions,
		users:    users,
		provider: provider,
		minter:   minter,
		cipher:   cipher,
		metrics:  metrics,
		config:   config,
	}
}

// InitiateResult はハンドシェイク開始の応答。
type InitiateResult struct {
	SessionID   string
	Status      model.SessionStatus
	RedirectURL string // loginアクションのみ
	ExpiresAt   time.Time
}

// Result はコールバック取り込みおよびポーリングの応答。
// Payloadはstatus=completedの場合にのみ設定される。
type Result struct {
	SessionID string
	Action    model.HandshakeAction
	Status    model.SessionStatus
	Payload   map[string]string
}

// Initiate はハンドシェイクを開始する。
// pending状態のセッションを1行作成し、loginアクションの場合は
// ブラウザに提示するIdPリダイレクトURLを返す。
func (c *Coordinator) Initiate(ctx context.Context, action model.HandshakeAction, meta model.ClientMeta) (*InitiateResult, error) {
	if _, ok := model.ParseHandshakeAction(string(action)); !ok {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("unknown action %q", action))
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:         sessionID,
		Action:     action,
		Status:     model.StatusPending,
		Payload:    map[string]string{},
		ClientMeta: meta,
		ExpiresAt:  now.Add(c.config.TTL),
		CreatedAt:  now,
	}

	if err := withStoreRetry(ctx, func() error {
		return c.sessions.Create(ctx, session)
	}); err != nil {
		return nil, err
	}

	result := &InitiateResult{
		SessionID: sessionID,
		Status:    model.StatusPending,
		ExpiresAt: session.ExpiresAt,
	}
	if action == model.ActionLogin {
		result.RedirectURL = c.provider.GetLoginURL(sessionID)
	}

	c.metrics.RecordHandshakeInitiated(string(action))
	slog.Info("handshake initiated",
		slog.String("session_id", sessionID),
		slog.String("action", string(action)),
		slog.String("app_version", meta.AppVersion),
	)

	return result, nil
}

// IngestCallback は外部アサーションを検証し、セッションを終端状態へ遷移させる。
// 検証失敗はfailed遷移として局所的に回復し、ポーリング側が必ず検査可能な
// 終端状態を観測できるようにする。遷移は条件付きUPDATEにより
// ちょうど1回だけ適用され、再送されたコールバックはSESSION_CONFLICTを受け取る。
func (c *Coordinator) IngestCallback(ctx context.Context, sessionID string, assertion Assertion) (*Result, error) {
	session, err := c.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case model.StatusPending:
		// 続行
	case model.StatusExpired:
		return nil, model.NewSessionExpiredError()
	default:
		return nil, model.NewSessionConflictError()
	}

	var result *Result
	if session.Action == model.ActionLogin {
		result, err = c.resolveLogin(ctx, session, assertion)
	} else {
		result, err = c.resolveAction(ctx, session, assertion)
	}
	if err == nil && result.Status != model.StatusPending {
		c.metrics.RecordHandshakeLatency(time.Since(session.CreatedAt))
	}
	return result, err
}

// resolveLogin はloginアクションのコールバックを解決する。
func (c *Coordinator) resolveLogin(ctx context.Context, session *model.Session, assertion Assertion) (*Result, error) {
	if assertion.Code == "" {
		return c.fail(ctx, session, FailureEmptyAssertion)
	}

	// 1. アサーションをIdPで検証する
	profile, err := c.provider.Exchange(ctx, assertion.Code)
	if err != nil {
		slog.Warn("assertion rejected by provider",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return c.fail(ctx, session, FailureAssertionRejected)
	}

	// 2. ユーザーを解決または作成する
	user, err := c.resolveUser(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return c.fail(ctx, session, FailureIdentityInactive)
	}

	// 3. 最終ログインを記録する（失敗してもハンドシェイクは継続する）
	if err := c.users.MarkLogin(ctx, user.ID, time.Now()); err != nil {
		slog.Warn("failed to mark login",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	// 4. トークンを発行する
	tok, err := c.minter.Mint(user)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		payloadKeyUserID: user.ID,
		payloadKeyToken:  tok,
	}
	if c.cipher != nil {
		encrypted, err := c.cipher.Encrypt(tok)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payload token: %w", err)
		}
		payload[payloadKeyToken] = encrypted
		payload[payloadKeyTokenFormat] = tokenFormatEncrypted
	}

	// 5. pending→completedを原子的に適用する
	if err := c.sessions.Transition(ctx, session.ID, model.StatusPending, model.StatusCompleted, user.ID, payload); err != nil {
		return nil, c.wrapStoreErr(err)
	}

	c.metrics.RecordHandshakeResolved(string(session.Action), string(model.StatusCompleted))
	slog.Info("handshake completed",
		slog.String("session_id", session.ID),
		slog.String("user_id", user.ID),
	)

	return &Result{
		SessionID: session.ID,
		Action:    session.Action,
		Status:    model.StatusCompleted,
		Payload:   payload,
	}, nil
}

// resolveAction はlogin以外のアクションのコールバックを解決する。
// アサーションのデータは不透明なペイロードとしてそのまま保存する。
func (c *Coordinator) resolveAction(ctx context.Context, session *model.Session, assertion Assertion) (*Result, error) {
	if len(assertion.Data) == 0 {
		return c.fail(ctx, session, FailureEmptyAssertion)
	}

	payload := make(map[string]string, len(assertion.Data))
	for k, v := range assertion.Data {
		payload[k] = v
	}

	if err := c.sessions.Transition(ctx, session.ID, model.StatusPending, model.StatusCompleted, "", payload); err != nil {
		return nil, c.wrapStoreErr(err)
	}

	c.metrics.RecordHandshakeResolved(string(session.Action), string(model.StatusCompleted))
	slog.Info("handshake completed",
		slog.String("session_id", session.ID),
		slog.String("action", string(session.Action)),
	)

	return &Result{
		SessionID: session.ID,
		Action:    session.Action,
		Status:    model.StatusCompleted,
		Payload:   payload,
	}, nil
}

// Poll は現在の（導出expiredを含む）状態を返す読み取り専用操作。
// 何度呼んでも状態を変更せず、initiateと別プロセスからの呼び出しでも
// セッションIDのみで応答する。
func (c *Coordinator) Poll(ctx context.Context, sessionID string) (*Result, error) {
	session, err := c.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		SessionID: session.ID,
		Action:    session.Action,
		Status:    session.Status,
	}
	// ペイロードはcompletedの場合にのみ開示する
	if session.Status == model.StatusCompleted {
		result.Payload = session.Payload
	}

	c.metrics.RecordPoll(string(session.Status))
	return result, nil
}

// Complete は開始側が結果を受領したことを通知する任意の操作。
// completedセッションに対しては冪等なno-opであり、
// Pollの正しさはこの呼び出しに依存しない。
func (c *Coordinator) Complete(ctx context.Context, sessionID string) (*Result, error) {
	session, err := c.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case model.StatusCompleted:
		return &Result{
			SessionID: session.ID,
			Action:    session.Action,
			Status:    model.StatusCompleted,
			Payload:   session.Payload,
		}, nil
	case model.StatusExpired:
		return nil, model.NewSessionExpiredError()
	default:
		return nil, model.NewInvalidArgumentError("session is not completed")
	}
}

// findSession はセッションを取得し、未検出をSESSION_NOT_FOUNDに正規化する。
// 削除済みIDと存在しないIDは区別しない。
func (c *Coordinator) findSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, model.NewInvalidArgumentError("session ID is required")
	}

	session, err := c.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}
	return session, nil
}

// fail は検証失敗をfailed遷移として記録する。
// 遷移自体も条件付きUPDATEを通るため、再試行されたコールバックとの競合でも
// 失敗理由が二重に適用されることはない。
func (c *Coordinator) fail(ctx context.Context, session *model.Session, reason string) (*Result, error) {
	payload := map[string]string{payloadKeyError: reason}

	if err := c.sessions.Transition(ctx, session.ID, model.StatusPending, model.StatusFailed, "", payload); err != nil {
		return nil, c.wrapStoreErr(err)
	}

	c.metrics.RecordHandshakeResolved(string(session.Action), string(model.StatusFailed))
	slog.Warn("handshake failed",
		slog.String("session_id", session.ID),
		slog.String("action", string(session.Action)),
		slog.String("reason", reason),
	)

	return &Result{
		SessionID: session.ID,
		Action:    session.Action,
		Status:    model.StatusFailed,
	}, nil
}

// wrapStoreErr はリポジトリのエラーを呼び出し側へ返す形に正規化する。
// 状態機械違反（NotFound/Expired/Conflict）はそのまま伝搬し、
// それ以外はストア障害として扱う。
func (c *Coordinator) wrapStoreErr(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewStoreUnavailableError(err)
}

// resolveUser は外部プロファイルからユーザーを解決する。
// 未登録の場合はusersレコードとidentitiesレコードを同時に自動作成する。
func (c *Coordinator) resolveUser(ctx context.Context, profile *auth.ExternalProfile) (*model.User, error) {
	user, err := c.users.FindByExternalID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user != nil {
		return user, nil
	}

	now := time.Now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     profile.Email,
		Name:      profile.Name,
		Tier:      model.TierFree,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      now,
	}

	if err := c.users.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", newUser.Email),
		slog.String("provider", profile.Provider),
	)

	return newUser, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
// 256ビットの乱数をhexエンコードする。IDの所持が照会のケーパビリティそのもの
// であるため、推測不能であることが必須となる。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
