package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/curator/internal/model"
)

// RetryPolicy はリトライ回数とバックオフ遅延の設定を表す。
type RetryPolicy struct {
	// MaxAttempts は初回を含む最大試行回数（デフォルト: 3）。
	MaxAttempts int
	// InitialBackoff は指数バックオフの初回遅延（デフォルト: 1秒）。
	InitialBackoff time.Duration
	// MaxBackoff は指数バックオフの最大遅延（デフォルト: 30秒）。
	MaxBackoff time.Duration
}

// DefaultRetryPolicy はデフォルトのリトライ設定を返す。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// ClassifyHTTPStatus はHTTPステータスコードをエラー分類に変換する。
// 2xxはnil、408/429/5xxは一時的エラー（リトライ対象）、
// それ以外（400/401/403等）は恒久的エラー（リトライしない）。
func ClassifyHTTPStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 408 || statusCode == 429:
		return model.NewTransientProviderError(fmt.Sprintf("HTTPステータス %d", statusCode))
	case statusCode >= 500:
		return model.NewTransientProviderError(fmt.Sprintf("HTTPステータス %d", statusCode))
	default:
		return model.NewPermanentProviderError(fmt.Sprintf("HTTPステータス %d", statusCode))
	}
}

// CalculateBackoff は試行回数（0始まり）に基づいて指数バックオフ遅延を計算する。
// 初回遅延から2倍ずつ増加し、最大遅延で頭打ちになる。
func (p RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

// DoWithRetry は一時的エラーに限りバックオフ付きでfnを再試行する。
// クォータ超過と恒久的エラーはリトライせず即座に返す。
// コンテキストのキャンセルは待機中にも反映される。
func DoWithRetry(ctx context.Context, logger *slog.Logger, policy RetryPolicy, operation string, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.CalculateBackoff(attempt - 1)
			logger.Warn("一時的エラーのためリトライします",
				slog.String("operation", operation),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !model.IsTransient(lastErr) {
			return lastErr
		}
	}

	logger.Error("リトライ上限に達しました",
		slog.String("operation", operation),
		slog.Int("max_attempts", policy.MaxAttempts),
		slog.String("error", lastErr.Error()),
	)
	return lastErr
}
