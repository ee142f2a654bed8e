// Package reaper は期限切れハンドシェイクセッションの物理削除ジョブを提供する。
// セッションの期限切れは読み取り時に導出されるため、失効自体にこのジョブは不要。
// ストレージの肥大化を防ぐための掃除役であり、遅延しても正しさに影響しない。
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
type SessionDeleter interface {
	// DeleteExpired は期限切れセッションの行を物理削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MetricsRecorder は削除件数のメトリクス記録を抽象化するインターフェース。
type MetricsRecorder interface {
	RecordSessionsReaped(count int64)
}

// Reaper は期限切れセッションを定期削除するバックグラウンドジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type Reaper struct {
	sessions SessionDeleter
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// NewReaper はReaperの新しいインスタンスを生成する。
// metricsはnilでもよい（記録をスキップする）。
func NewReaper(sessions SessionDeleter, metrics MetricsRecorder, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start は指定間隔のティッカーでリーパーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Reaper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("セッションリーパーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("セッション削除サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("セッションリーパーを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("セッション削除サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限切れセッションを1回削除する。
func (r *Reaper) RunOnce(ctx context.Context) error {
	start := time.Now()

	deleted, err := r.sessions.DeleteExpired(ctx, start)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordSessionsReaped(deleted)
	}

	duration := time.Since(start)
	r.logger.Info("セッション削除サイクルが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
