// Package auth は外部IdPによるアサーション検証を提供する。
// ハンドシェイクのコールバックで受け取った認可コードをIdPと交換し、
// 信頼できる外部プロファイルへと検証するコラボレーターを定義する。
package auth

import "context"

// ExternalProfile は外部IdPの検証を通過したユーザー情報を表す。
type ExternalProfile struct {
	Provider       string // "google" 等
	ProviderUserID string
	Email          string
	Name           string
}

// Provider は外部IdPのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type Provider interface {
	// Name はIdPの識別子を返す。
	Name() string
	// GetLoginURL はブラウザに提示する認証URLを生成する。
	// stateにはセッションIDを渡し、コールバックで往復させる。
	GetLoginURL(state string) string
	// Exchange は認可コードを検証し、外部プロファイルを取得する。
	// コードが無効・失効している場合はエラーを返す。
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}
