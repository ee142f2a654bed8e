// Package policy はプランに基づくアクセス制御を提供する。
// ケーパビリティ名から許可される最小プランへの静的なマッピングであり、
// 隠れた状態を持たない純粋なテーブルとして実装する。
package policy

import "github.com/hitoshi/hubgate/internal/model"

// Capability はアクセス制御の単位となる操作名。
type Capability string

const (
	// CapabilityDownload はアーティファクトのダウンロード。
	CapabilityDownload Capability = "download"
	// CapabilityUpdate はハブ本体のアップデート取得。
	CapabilityUpdate Capability = "update"
	// CapabilityActivate はライセンスのアクティベーション。
	CapabilityActivate Capability = "activate"
	// CapabilitySync はハブの設定同期。
	CapabilitySync Capability = "sync"
	// CapabilityBulkSync は複数ハブの一括同期。
	CapabilityBulkSync Capability = "bulk_sync"
)

// Policy はケーパビリティごとの最小プランを保持する。
type Policy struct {
	minTiers map[Capability]model.Tier
}

// Default は標準のアクセスポリシーを返す。
func Default() *Policy {
	return &Policy{
		minTiers: map[Capability]model.Tier{
			CapabilityDownload: model.TierFree,
			CapabilityUpdate:   model.TierFree,
			CapabilityActivate: model.TierPro,
			CapabilitySync:     model.TierPro,
			CapabilityBulkSync: model.TierEnterprise,
		},
	}
}

// Allows はユーザーのプランがケーパビリティの要求を満たすかどうかを返す。
// 未知のケーパビリティは拒否する（新規ケーパビリティはデフォルトで閉じる）。
func (p *Policy) Allows(user *model.User, capability Capability) bool {
	if user == nil {
		return false
	}
	min, ok := p.minTiers[capability]
	if !ok {
		return false
	}
	return user.Tier.AtLeast(min)
}
