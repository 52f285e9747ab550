// Package scheduler はcron式による名前付きジョブの定期実行を提供する。
// ジョブごとにシングルフライト（同時実行は1つまで）を保証し、
// 実行履歴を保持期間付きで記録する。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/curator/internal/model"
)

// maxHistoryPerJob はジョブ1つあたりの履歴保持上限件数。
const maxHistoryPerJob = 100

// Job は名前付きスケジュールジョブの定義を表す。
// Handlerの失敗はJobRunに記録されるだけで、スケジューラ自体は停止しない。
type Job struct {
	Name        string
	Spec        string // 標準5フィールドのcron式
	Description string
	Handler     func(ctx context.Context) error
}

// JobStatus はジョブ1つの運用状態スナップショットを表す。
type JobStatus struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schedule    string         `json:"schedule"`
	Enabled     bool           `json:"enabled"`
	IsRunning   bool           `json:"is_running"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	RunCount    int            `json:"run_count"`
	ErrorCount  int            `json:"error_count"`
	SkipCount   int            `json:"skip_count"`
	History     []model.JobRun `json:"history"`
}

// jobState はジョブ1つの内部状態。Schedulerのミューテックスで保護される。
type jobState struct {
	job        Job
	entryID    cron.EntryID
	enabled    bool
	running    bool
	lastRunAt  time.Time
	runCount   int
	errorCount int
	skipCount  int
	history    []model.JobRun
}

// Scheduler はcronベースのジョブスケジューラ。
// 標準5フィールド（分 時 日 月 曜日）のcron式を解釈する。
type Scheduler struct {
	cron          *cron.Cron
	logger        *slog.Logger
	retentionDays int

	mu     sync.Mutex
	jobs   map[string]*jobState
	order  []string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New はSchedulerの新しいインスタンスを生成する。
// retentionDaysはJobRun履歴の保持日数。
func New(logger *slog.Logger, retentionDays int) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:          cron.New(cron.WithParser(parser)),
		logger:        logger,
		retentionDays: retentionDays,
		jobs:          make(map[string]*jobState),
	}
}

// Register はジョブを登録してスケジュールに載せる。
// 同名ジョブの二重登録と不正なcron式はエラーを返す。
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Name == "" {
		return fmt.Errorf("ジョブ名は必須です")
	}
	if job.Handler == nil {
		return fmt.Errorf("ジョブ %s のハンドラは必須です", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("ジョブ名が重複しています: %s", job.Name)
	}

	name := job.Name
	entryID, err := s.cron.AddFunc(job.Spec, func() {
		s.trigger(name)
	})
	if err != nil {
		return fmt.Errorf("ジョブ %s のcron式が不正です: %w", job.Name, err)
	}

	s.jobs[job.Name] = &jobState{
		job:     job,
		entryID: entryID,
		enabled: true,
	}
	s.order = append(s.order, job.Name)

	s.logger.Info("ジョブを登録しました",
		slog.String("job", job.Name),
		slog.String("schedule", job.Spec),
	)
	return nil
}

// Start はスケジューラを起動する。
// ジョブハンドラにはctxから派生したコンテキストが渡される。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("スケジューラを開始しました",
		slog.Int("jobs", len(s.jobs)),
	)
}

// Stop はスケジューラを停止する。
// 以後のトリガーは発生しないが、実行中のジョブは中断せず完了を待つ。
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.Info("スケジューラを停止しました")
}

// StopJob は指定ジョブの以後のトリガーを無効化する。
// 実行中の場合は中断しない。
func (s *Scheduler) StopJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("ジョブが見つかりません: %s", name)
	}
	if !state.enabled {
		return nil
	}
	s.cron.Remove(state.entryID)
	state.enabled = false

	s.logger.Info("ジョブを停止しました", slog.String("job", name))
	return nil
}

// StartJob は停止中のジョブのスケジュールを再開する。
func (s *Scheduler) StartJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("ジョブが見つかりません: %s", name)
	}
	if state.enabled {
		return nil
	}

	jobName := name
	entryID, err := s.cron.AddFunc(state.job.Spec, func() {
		s.trigger(jobName)
	})
	if err != nil {
		return fmt.Errorf("ジョブ %s の再開に失敗しました: %w", name, err)
	}
	state.entryID = entryID
	state.enabled = true

	s.logger.Info("ジョブを再開しました", slog.String("job", name))
	return nil
}

// Trigger はジョブを即時実行する（手動実行用）。
// シングルフライト制約はスケジュール実行と共有される。
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ジョブが見つかりません: %s", name)
	}
	s.trigger(name)
	return nil
}

// trigger はシングルフライト判定のうえジョブを実行する。
// 既に実行中の場合はスキップとして記録し、2重実行しない。
func (s *Scheduler) trigger(name string) {
	s.mu.Lock()
	state, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if state.running {
		state.skipCount++
		s.mu.Unlock()
		s.logger.Warn("ジョブは実行中のためトリガーをスキップします",
			slog.String("job", name),
		)
		return
	}
	state.running = true
	ctx := s.ctx
	handler := state.job.Handler
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.runProtected(ctx, name, handler)
}

// runProtected はハンドラを保護境界内で実行し、結果をJobRunとして記録する。
// ハンドラのpanicも失敗したJobRunに変換され、プロセスは停止しない。
func (s *Scheduler) runProtected(ctx context.Context, name string, handler func(ctx context.Context) error) {
	started := time.Now()

	s.logger.Info("ジョブを開始します", slog.String("job", name))

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("ジョブがpanicしました: %v", r)
			}
		}()
		runErr = handler(ctx)
	}()

	finished := time.Now()
	run := model.JobRun{
		ID:         uuid.New().String(),
		JobName:    name,
		StartedAt:  started,
		FinishedAt: finished,
		Success:    runErr == nil,
		Duration:   finished.Sub(started),
	}
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}

	s.mu.Lock()
	state := s.jobs[name]
	state.running = false
	state.lastRunAt = started
	state.runCount++
	if runErr != nil {
		state.errorCount++
	}
	state.history = append(state.history, run)
	state.history = trimHistory(state.history, s.retentionDays, finished)
	s.mu.Unlock()

	if runErr != nil {
		s.logger.Error("ジョブが失敗しました",
			slog.String("job", name),
			slog.String("error", runErr.Error()),
			slog.Float64("duration_ms", float64(run.Duration.Milliseconds())),
		)
		return
	}

	s.logger.Info("ジョブが完了しました",
		slog.String("job", name),
		slog.Float64("duration_ms", float64(run.Duration.Milliseconds())),
	)
}

// Status は全ジョブの運用状態スナップショットを登録順で返す。
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		state := s.jobs[name]
		status := JobStatus{
			Name:        state.job.Name,
			Description: state.job.Description,
			Schedule:    state.job.Spec,
			Enabled:     state.enabled,
			IsRunning:   state.running,
			RunCount:    state.runCount,
			ErrorCount:  state.errorCount,
			SkipCount:   state.skipCount,
			History:     append([]model.JobRun(nil), state.history...),
		}
		if !state.lastRunAt.IsZero() {
			t := state.lastRunAt
			status.LastRunAt = &t
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// trimHistory は保持日数を超えた古い記録と上限超過分を削除する。
func trimHistory(history []model.JobRun, retentionDays int, now time.Time) []model.JobRun {
	cutoff := now.AddDate(0, 0, -retentionDays)
	kept := history[:0]
	for _, run := range history {
		if run.FinishedAt.After(cutoff) {
			kept = append(kept, run)
		}
	}
	if len(kept) > maxHistoryPerJob {
		kept = kept[len(kept)-maxHistoryPerJob:]
	}
	return kept
}
