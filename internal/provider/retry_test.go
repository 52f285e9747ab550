package provider

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/curator/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestClassifyHTTPStatus_Success(t *testing.T) {
	for _, code := range []int{200, 201, 204} {
		if err := ClassifyHTTPStatus(code); err != nil {
			t.Errorf("ステータス %d は成功であるべき: %v", code, err)
		}
	}
}

func TestClassifyHTTPStatus_Transient(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503} {
		err := ClassifyHTTPStatus(code)
		if !model.IsTransient(err) {
			t.Errorf("ステータス %d は一時的エラーであるべき: %v", code, err)
		}
	}
}

func TestClassifyHTTPStatus_Permanent(t *testing.T) {
	for _, code := range []int{400, 401, 403, 404} {
		err := ClassifyHTTPStatus(code)
		if !model.IsPermanent(err) {
			t.Errorf("ステータス %d は恒久的エラーであるべき: %v", code, err)
		}
	}
}

func TestCalculateBackoff_Exponential(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, c := range cases {
		if got := p.CalculateBackoff(c.attempt); got != c.want {
			t.Errorf("試行 %d のバックオフ = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestCalculateBackoff_CappedAtMax(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}

	if got := p.CalculateBackoff(100); got != 30*time.Second {
		t.Errorf("バックオフ = %v, 最大30秒で頭打ちになるべき", got)
	}
}

func TestDoWithRetry_SucceedsFirstAttempt(t *testing.T) {
	var calls int
	err := DoWithRetry(context.Background(), testLogger(), fastPolicy(), "test", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("成功はエラーを返さないべき: %v", err)
	}
	if calls != 1 {
		t.Errorf("呼び出し回数 = %d, want 1", calls)
	}
}

func TestDoWithRetry_RetriesTransientErrors(t *testing.T) {
	var calls int
	err := DoWithRetry(context.Background(), testLogger(), fastPolicy(), "test", func() error {
		calls++
		if calls < 3 {
			return model.NewTransientProviderError("一時障害")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("3回目で成功するべき: %v", err)
	}
	if calls != 3 {
		t.Errorf("呼び出し回数 = %d, want 3", calls)
	}
}

func TestDoWithRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	var calls int
	err := DoWithRetry(context.Background(), testLogger(), fastPolicy(), "test", func() error {
		calls++
		return model.NewPermanentProviderError("不正なクエリ")
	})
	if !model.IsPermanent(err) {
		t.Fatalf("恒久的エラーがそのまま返るべき: %v", err)
	}
	if calls != 1 {
		t.Errorf("呼び出し回数 = %d, 恒久的エラーはリトライしないため1であるべき", calls)
	}
}

func TestDoWithRetry_DoesNotRetryQuotaExceeded(t *testing.T) {
	var calls int
	err := DoWithRetry(context.Background(), testLogger(), fastPolicy(), "test", func() error {
		calls++
		return model.NewQuotaExceededError("news", time.Now().Add(time.Hour))
	})
	if !model.IsQuotaExceeded(err) {
		t.Fatalf("クォータ超過がそのまま返るべき: %v", err)
	}
	if calls != 1 {
		t.Errorf("呼び出し回数 = %d, クォータ超過はリトライしないため1であるべき", calls)
	}
}

func TestDoWithRetry_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := DoWithRetry(context.Background(), testLogger(), fastPolicy(), "test", func() error {
		calls++
		return model.NewTransientProviderError("継続障害")
	})
	if !model.IsTransient(err) {
		t.Fatalf("最後の一時的エラーが返るべき: %v", err)
	}
	if calls != 3 {
		t.Errorf("呼び出し回数 = %d, want 3（上限）", calls)
	}
}

func TestDoWithRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Hour, // 待機中のキャンセルを検証するため長い遅延
		MaxBackoff:     time.Hour,
	}

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- DoWithRetry(ctx, testLogger(), policy, "test", func() error {
			calls++
			return model.NewTransientProviderError("一時障害")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("キャンセル後すぐに戻るべき")
	}
	if calls != 1 {
		t.Errorf("呼び出し回数 = %d, want 1", calls)
	}
}
