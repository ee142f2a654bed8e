package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/hubgate/internal/model"
)

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 100 * time.Millisecond
)

// withStoreRetry はストアへの書き込みを限定的に再試行する。
// 一時的な接続断だけを対象とし、APIErrorに分類済みのエラーは
// 再試行しても結果が変わらないため即座に返す。
// バックオフは試行ごとに2倍になる。
func withStoreRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := storeRetryBackoff

	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return err
		}
		lastErr = err
	}

	return model.NewStoreUnavailableError(lastErr)
}
