package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// リトライ方針の既定値なのだ。一時的な失敗は合計3回まで、固定2秒間隔で試すのだ。
const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 2 * time.Second
)

// withRetry は一時的な失敗だけを規定回数までリトライするのだ。
// 認証エラーのような恒久的な失敗は op 側で backoff.Permanent に包んで即座に打ち切るのだよ。
func withRetry(ctx context.Context, delay time.Duration, op backoff.Operation) error {
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), defaultRetryAttempts-1),
		ctx,
	)
	return backoff.Retry(op, policy)
}

// retryableStatus は再試行の価値があるHTTPステータスか判定します。
// 4xx は原則リトライしません（408 と 429 だけは一時的なものとして扱います）。
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
