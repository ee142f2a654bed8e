package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, handshake, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeSessionConflict     = "SESSION_CONFLICT"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeSigningUnavailable  = "SIGNING_UNAVAILABLE"
)

// NewInvalidArgumentError は不正な入力エラーを生成する。
func NewInvalidArgumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
// 存在しないIDと削除済みIDを区別せず、同一のエラーを返す。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "指定されたセッションが見つかりません。",
		Category: "handshake",
		Action:   "ハンドシェイクを最初からやり直してください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "handshake",
		Action:   "ハンドシェイクを最初からやり直してください。",
	}
}

// NewSessionConflictError はセッションがすでに解決済みの場合のエラーを生成する。
func NewSessionConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionConflict,
		Message:  "セッションはすでに解決済みです。",
		Category: "handshake",
		Action:   "現在の状態はポーリングで取得してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
// トークン欠落・無効・期限切れ、および無効化されたユーザーを区別しない。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(capability string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を実行する権限がありません: %s", capability),
		Category: "auth",
		Action:   "プランのアップグレードが必要です。",
	}
}

// NewStoreUnavailableError はセッションストア障害エラーを生成する。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("ストレージへのアクセスに失敗しました: %v", err),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSigningUnavailableError は署名鍵未設定エラーを生成する。
func NewSigningUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeSigningUnavailable,
		Message:  "トークン署名鍵が設定されていません。",
		Category: "system",
		Action:   "サーバー管理者に連絡してください。",
	}
}
