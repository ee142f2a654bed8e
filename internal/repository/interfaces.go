// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/hubgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID は外部IdPのユーザーIDでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, provider, providerUserID string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// MarkLogin は最終ログイン日時を記録する。
	MarkLogin(ctx context.Context, userID string, at time.Time) error
}

// SessionRepository はハンドシェイクセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はpending状態のセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れのpendingセッションは、ストアへの書き戻しなしに
	// StatusExpiredとして実体化したビューを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Transition はfromからtoへの状態遷移を単一の条件付きUPDATEで行う。
	// 比較時点でストアのstatusがfromと一致する場合にのみ成功する。
	// 同一セッションへの並行遷移はちょうど1つだけが勝者となり、
	// 敗者は*model.APIError（SESSION_CONFLICT / SESSION_NOT_FOUND /
	// SESSION_EXPIRED）を受け取る。
	// userIDが空でない場合は解決したユーザーIDも同時に記録する。
	Transition(ctx context.Context, id string, from, to model.SessionStatus, userID string, payload map[string]string) error

	// DeleteExpired は期限切れセッションの行を物理削除し、削除件数を返す。
	// ストレージ回収のための処理であり、正しさはこの実行に依存しない。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
