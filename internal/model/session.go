package model

import "time"

// HandshakeAction はハンドシェイクの種別を表す閉じた列挙。
type HandshakeAction string

const (
	// ActionLogin はブラウザ経由のOAuthログイン。
	ActionLogin HandshakeAction = "login"
	// ActionDownload はアーティファクトのダウンロード許可取得。
	ActionDownload HandshakeAction = "download"
	// ActionActivate はライセンスのアクティベーション。
	ActionActivate HandshakeAction = "activate"
	// ActionSync はハブの設定同期。
	ActionSync HandshakeAction = "sync"
	// ActionUpdate はハブ本体のアップデート確認。
	ActionUpdate HandshakeAction = "update"
)

// validActions はサポートされるアクションの集合。
var validActions = map[HandshakeAction]struct{}{
	ActionLogin:    {},
	ActionDownload: {},
	ActionActivate: {},
	ActionSync:     {},
	ActionUpdate:   {},
}

// ParseHandshakeAction は文字列をHandshakeActionに変換する。
// 未知の値の場合はfalseを返す。
func ParseHandshakeAction(s string) (HandshakeAction, bool) {
	action := HandshakeAction(s)
	_, ok := validActions[action]
	return action, ok
}

// SessionStatus はハンドシェイクセッションの状態を表す。
// pendingからの遷移は高々1回であり、completed/failed/expiredは終端状態。
type SessionStatus string

const (
	// StatusPending はコールバック待ちの状態。
	StatusPending SessionStatus = "pending"
	// StatusCompleted はコールバックの検証に成功した終端状態。
	StatusCompleted SessionStatus = "completed"
	// StatusFailed はコールバックの検証に失敗した終端状態。
	StatusFailed SessionStatus = "failed"
	// StatusExpired はTTL超過の終端状態。ストアに書き戻されるとは限らず、
	// 読み取り時に(status, expires_at, now)から導出される。
	StatusExpired SessionStatus = "expired"
)

// ClientMeta はハンドシェイクを開始したクライアントの申告情報。
// 参考情報であり、認可判断には一切使用しない。
type ClientMeta struct {
	AppVersion string
	OS         string
	HardwareID string
}

// Session は1回のハンドシェイクを調停するエフェメラルなレコードを表す。
// IDは暗号的に安全な乱数から生成され、ID自体が照会のケーパビリティとなる。
type Session struct {
	ID          string
	UserID      string // 未認証の間は空
	Action      HandshakeAction
	Status      SessionStatus
	Payload     map[string]string
	ClientMeta  ClientMeta
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// EffectiveStatus は導出状態を含めた現在の状態を返す。
// ストアのstatusがpendingのままでもexpires_atを過ぎていればStatusExpiredを返す。
// スイープの実行有無に正しさが依存しないよう、期限は常に読み取り時に評価する。
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status == StatusPending && now.After(s.ExpiresAt) {
		return StatusExpired
	}
	return s.Status
}

// IsTerminal は状態が終端（pending以外）かどうかを返す。
func (st SessionStatus) IsTerminal() bool {
	return st != StatusPending
}
