// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/curator/internal/config"
	"github.com/hitoshi/curator/internal/dataset"
	"github.com/hitoshi/curator/internal/dedup"
	"github.com/hitoshi/curator/internal/engagement"
	"github.com/hitoshi/curator/internal/logger"
	"github.com/hitoshi/curator/internal/metrics"
	"github.com/hitoshi/curator/internal/pipeline"
	"github.com/hitoshi/curator/internal/provider"
	"github.com/hitoshi/curator/internal/scheduler"
	"github.com/hitoshi/curator/internal/scoring"
	"github.com/hitoshi/curator/internal/search"
	"github.com/hitoshi/curator/internal/security"
	"github.com/hitoshi/curator/internal/status"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしたうえで環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("初期化に失敗しました: %w", err)
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("ルールの読み込みに失敗しました: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("subject", rules.Subject.Name),
		slog.String("data_dir", cfg.DataDir),
	)

	switch cmd {
	case CommandRunOnce:
		if len(rest) == 0 {
			return fmt.Errorf("run-once にはジョブ名を指定してください")
		}
		return runOnce(cfg, rules, rest[0])
	default:
		return runWorker(cfg, rules)
	}
}

// workerDeps はワーカーモードの依存関係一式を保持する。
type workerDeps struct {
	jobs      []scheduler.Job
	providers []status.QuotaStatsProvider
	registry  *prometheus.Registry
}

// buildDeps は全パイプラインの依存関係をワイヤリングする。
func buildDeps(cfg *config.Config, rules *config.Rules) *workerDeps {
	log := slog.Default()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sanitizer := security.NewTextSanitizer()
	feedGuard := security.NewFeedGuard()
	scorer := scoring.NewScorer(rules.Subject, rules.Scoring)

	retry := provider.RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}
	loc := cfg.QuotaLocation()
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	newsQuota := provider.NewQuotaTracker("news", cfg.NewsQuotaLimit, loc, 1)
	videoQuota := provider.NewQuotaTracker("video", cfg.VideoQuotaLimit, loc, 1)
	feedQuota := provider.NewQuotaTracker("feed", cfg.FeedQuotaLimit, loc, 1)

	newsClient := provider.NewNewsClient(httpClient, log, sanitizer, newsQuota, provider.NewsClientConfig{
		BaseURL:    cfg.NewsAPIBaseURL,
		APIKey:     cfg.NewsAPIKey,
		SearchCost: cfg.NewsSearchCost,
		Retry:      retry,
	})
	videoClient := provider.NewVideoClient(httpClient, log, sanitizer, videoQuota, provider.VideoClientConfig{
		BaseURL:    cfg.VideoAPIBaseURL,
		APIKey:     cfg.VideoAPIKey,
		SearchCost: cfg.VideoSearchCost,
		StatsCost:  cfg.VideoStatsCost,
		Retry:      retry,
	})
	feedClient := provider.NewFeedClient(feedGuard, log, sanitizer, feedQuota, provider.FeedClientConfig{
		FeedURLs:    rules.FeedURLs,
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		Retry:       retry,
	})

	deduplicator := dedup.NewDeduplicator(
		rules.Dedupe.TitleWeight, rules.Dedupe.BodyWeight, rules.Scoring.AuthoritativeSources)
	merger := dataset.NewMerger(cfg.TrendingLimit, cfg.RefreshExisting)
	limits := search.Limits{
		ScoreThreshold: rules.ScoreThreshold,
		MaxCandidates:  rules.MaxCandidates,
	}

	newsStore := dataset.NewStore(filepath.Join(cfg.DataDir, "dataset_news.json"), cfg.BackupRetention, log)
	videoStore := dataset.NewStore(filepath.Join(cfg.DataDir, "dataset_videos.json"), cfg.BackupRetention, log)
	feedStore := dataset.NewStore(filepath.Join(cfg.DataDir, "dataset_feeds.json"), cfg.BackupRetention, log)

	newsPipeline := pipeline.New(
		search.NewOrchestrator(newsClient, scorer, log),
		deduplicator, merger, newsStore, collector, log,
		pipeline.Config{
			Name:                "news",
			Strategies:          rules.NewsStrategies,
			Limits:              limits,
			SimilarityThreshold: rules.Dedupe.SimilarityThreshold,
			MaxItems:            cfg.MaxItems,
		})
	videoPipeline := pipeline.New(
		search.NewOrchestrator(videoClient, scorer, log),
		deduplicator, merger, videoStore, collector, log,
		pipeline.Config{
			Name:                "video",
			Strategies:          rules.VideoStrategies,
			Limits:              limits,
			SimilarityThreshold: rules.Dedupe.SimilarityThreshold,
			MaxItems:            cfg.MaxItems,
		})

	// フィード戦略が未定義の場合はニュース戦略をフィルタ語として流用する
	feedStrategies := rules.FeedStrategies
	if len(feedStrategies) == 0 {
		feedStrategies = rules.NewsStrategies
	}
	feedPipeline := pipeline.New(
		search.NewOrchestrator(feedClient, scorer, log),
		deduplicator, merger, feedStore, collector, log,
		pipeline.Config{
			Name:                "feed",
			Strategies:          feedStrategies,
			Limits:              limits,
			SimilarityThreshold: rules.Dedupe.SimilarityThreshold,
			MaxItems:            cfg.MaxItems,
		})

	engagementJob := engagement.NewRefreshJob(videoStore, videoClient, log, engagement.RefreshConfig{
		APIInterval:      cfg.EngagementAPIInterval,
		MaxCallsPerCycle: cfg.EngagementMaxCallsPerCycle,
	})

	providers := []status.QuotaStatsProvider{newsClient, videoClient, feedClient}

	// ジョブ完了時にジョブ実行メトリクスと残クォータゲージを更新する
	withMetrics := func(name string, run func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			err := run(ctx)
			collector.RecordJobRun(name, err == nil)
			for _, p := range providers {
				collector.SetQuotaRemaining(p.Name(), p.UsageStats().Remaining)
			}
			return err
		}
	}

	// 動画パイプラインとエンゲージメント更新は同一データセットファイルを
	// 読み書きするため、ミューテックスで直列化する
	var videoMu sync.Mutex

	jobs := []scheduler.Job{
		{
			Name:        "news_pipeline",
			Spec:        cfg.NewsSchedule,
			Description: "テキスト検索プロバイダからの取り込みとデータセット更新",
			Handler:     withMetrics("news_pipeline", newsPipeline.Run),
		},
		{
			Name:        "video_pipeline",
			Spec:        cfg.VideoSchedule,
			Description: "動画検索プロバイダからの取り込みとデータセット更新",
			Handler: withMetrics("video_pipeline", func(ctx context.Context) error {
				videoMu.Lock()
				defer videoMu.Unlock()
				return videoPipeline.Run(ctx)
			}),
		},
		{
			Name:        "feed_pipeline",
			Spec:        cfg.FeedSchedule,
			Description: "RSS/Atomフィードからの取り込みとデータセット更新",
			Handler:     withMetrics("feed_pipeline", feedPipeline.Run),
		},
		{
			Name:        "engagement_refresh",
			Spec:        cfg.EngagementSchedule,
			Description: "動画アイテムのエンゲージメント指標の更新",
			Handler: withMetrics("engagement_refresh", func(ctx context.Context) error {
				videoMu.Lock()
				defer videoMu.Unlock()
				return engagementJob.RunOnce(ctx)
			}),
		},
	}

	return &workerDeps{
		jobs:      jobs,
		providers: providers,
		registry:  registry,
	}
}

// runWorker はワーカーモードで起動する。
// スケジューラに全ジョブを登録し、運用監視HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行い、
// 実行中のジョブ（データセット書き込みを含む）の完了を待つ。
func runWorker(cfg *config.Config, rules *config.Rules) error {
	deps := buildDeps(cfg, rules)

	sched := scheduler.New(slog.Default(), cfg.HistoryRetentionDays)
	for _, job := range deps.jobs {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("ジョブの登録に失敗しました: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)

	router := status.NewRouter(&status.RouterDeps{
		Scheduler: sched,
		Providers: deps.providers,
		Gatherer:  deps.registry,
		Logger:    slog.Default(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("運用監視サーバーを起動します",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("サーバーの待ち受けに失敗しました", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("ワーカーをシャットダウンします...")

	// 実行中のジョブの完了を待ってからコンテキストを破棄する
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗しました: %w", err)
	}

	slog.Info("ワーカーを停止しました")
	return nil
}

// runOnce は指定ジョブを1回だけ実行する。
// スケジューラを経由せず、ハンドラを直接実行する。
func runOnce(cfg *config.Config, rules *config.Rules, jobName string) error {
	deps := buildDeps(cfg, rules)

	for _, job := range deps.jobs {
		if job.Name != jobName {
			continue
		}
		slog.Info("ジョブを1回実行します", slog.String("job", jobName))
		return job.Handler(context.Background())
	}

	names := make([]string, 0, len(deps.jobs))
	for _, job := range deps.jobs {
		names = append(names, job.Name)
	}
	return fmt.Errorf("ジョブが見つかりません: %s（候補: %v）", jobName, names)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("ヘルスチェックに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ヘルスチェックがステータス %d を返しました", resp.StatusCode)
	}

	return nil
}
