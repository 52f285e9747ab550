package provider

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/curator/internal/model"
)

// QuotaStats はクォータ使用状況のスナップショットを表す。
type QuotaStats struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// QuotaTracker は1日単位のユニット予算を追跡する。
// 各API呼び出しは既知のユニットコストを消費し、
// プロバイダのローカル日付が変わった時点で使用量がリセットされる。
// グローバル変数ではなく各クライアントが所有し、ライフサイクルは
// プロセス起動と日次リセットに紐づく。
type QuotaTracker struct {
	mu       sync.Mutex
	provider string
	limit    int
	used     int
	dayKey   string
	loc      *time.Location
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewQuotaTracker はQuotaTrackerの新しいインスタンスを生成する。
// callsPerSecondはAPI呼び出しのペーシング上限（0以下の場合は1 req/sec）。
func NewQuotaTracker(provider string, limit int, loc *time.Location, callsPerSecond float64) *QuotaTracker {
	if loc == nil {
		loc = time.UTC
	}
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &QuotaTracker{
		provider: provider,
		limit:    limit,
		loc:      loc,
		limiter:  rate.NewLimiter(rate.Limit(callsPerSecond), 1),
		now:      time.Now,
	}
}

// Consume は指定コストのユニットを消費する。
// 予算を超過する場合はQUOTA_EXCEEDEDエラーを返し、使用量は増やさない。
// 日付が変わっていた場合は消費前に使用量をリセットする。
func (q *QuotaTracker) Consume(cost int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollDayLocked()

	if q.used+cost > q.limit {
		return model.NewQuotaExceededError(q.provider, q.resetAtLocked())
	}
	q.used += cost
	return nil
}

// Limiter はAPI呼び出しのペーシング用レートリミッタを返す。
// クライアントはHTTPリクエスト送信前にWaitを呼び出す。
func (q *QuotaTracker) Limiter() *rate.Limiter {
	return q.limiter
}

// Stats は現在のクォータ使用状況のスナップショットを返す。
func (q *QuotaTracker) Stats() QuotaStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollDayLocked()

	return QuotaStats{
		Used:      q.used,
		Limit:     q.limit,
		Remaining: q.limit - q.used,
		ResetAt:   q.resetAtLocked(),
	}
}

// rollDayLocked はプロバイダのローカル日付が変わっていた場合に使用量をリセットする。
// 呼び出し側でロックを保持していること。
func (q *QuotaTracker) rollDayLocked() {
	today := q.now().In(q.loc).Format("2006-01-02")
	if q.dayKey != today {
		q.dayKey = today
		q.used = 0
	}
}

// resetAtLocked は次のリセット時刻（ローカル日付の翌日0時）を返す。
// 呼び出し側でロックを保持していること。
func (q *QuotaTracker) resetAtLocked() time.Time {
	now := q.now().In(q.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, q.loc).AddDate(0, 0, 1)
}
