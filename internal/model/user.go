// Package model はドメインモデルを定義する。
package model

import "time"

// Tier はユーザーの契約プランを表す。順序付き列挙であり、
// Free < Pro < Enterprise の順で権限が広がる。
type Tier string

const (
	// TierFree は無料プラン。
	TierFree Tier = "free"
	// TierPro は有料プラン。
	TierPro Tier = "pro"
	// TierEnterprise は法人プラン。
	TierEnterprise Tier = "enterprise"
)

// tierRanks はプランの順序を定義する。未知のプランは0（最下位未満）として扱う。
var tierRanks = map[Tier]int{
	TierFree:       1,
	TierPro:        2,
	TierEnterprise: 3,
}

// Rank はプランの順序値を返す。未知のプランは0を返す。
func (t Tier) Rank() int {
	return tierRanks[t]
}

// AtLeast はtがotherと同等以上のプランかどうかを返す。
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// IsValid はtが定義済みのプランかどうかを返す。
func (t Tier) IsValid() bool {
	_, ok := tierRanks[t]
	return ok
}

// User はハブを利用する認証済みプリンシパルを表す。
// emailとprovider_user_id（identities経由）はそれぞれ全ユーザー間で一意。
type User struct {
	ID          string
	Email       string
	Name        string
	Tier        Tier
	Active      bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}
