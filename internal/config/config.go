// Package config はアプリケーション設定の読み込みを提供する。
// 環境変数による動作設定と、YAMLルールファイルによる
// スコアリングルール・検索戦略の定義の2系統からなる。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Data
	DataDir   string
	RulesPath string

	// Providers
	NewsAPIBaseURL  string
	NewsAPIKey      string
	VideoAPIBaseURL string
	VideoAPIKey     string

	// Quota（1日あたりのユニット予算とユニット単価）
	NewsQuotaLimit   int
	VideoQuotaLimit  int
	FeedQuotaLimit   int
	NewsSearchCost   int
	VideoSearchCost  int
	VideoStatsCost   int
	QuotaTimezone    string

	// Retry
	ProviderTimeout     time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// Dataset
	MaxItems             int
	TrendingLimit        int
	BackupRetention      int
	RefreshExisting      bool

	// Scheduler
	NewsSchedule         string
	VideoSchedule        string
	FeedSchedule         string
	EngagementSchedule   string
	HistoryRetentionDays int

	// Engagement
	EngagementAPIInterval      time.Duration
	EngagementMaxCallsPerCycle int

	// Fetch（RSSフィード取得）
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.NewsAPIKey = os.Getenv("NEWS_API_KEY")
	if cfg.NewsAPIKey == "" {
		missing = append(missing, "NEWS_API_KEY")
	}

	cfg.VideoAPIKey = os.Getenv("VIDEO_API_KEY")
	if cfg.VideoAPIKey == "" {
		missing = append(missing, "VIDEO_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.RulesPath = getEnvString("RULES_PATH", "./config/rules.yaml")
	cfg.NewsAPIBaseURL = getEnvString("NEWS_API_BASE_URL", "https://newsapi.org/v2")
	cfg.VideoAPIBaseURL = getEnvString("VIDEO_API_BASE_URL", "https://www.googleapis.com/youtube/v3")
	cfg.NewsQuotaLimit = getEnvInt("NEWS_QUOTA_LIMIT", 100)
	cfg.VideoQuotaLimit = getEnvInt("VIDEO_QUOTA_LIMIT", 10000)
	cfg.FeedQuotaLimit = getEnvInt("FEED_QUOTA_LIMIT", 1000)
	cfg.NewsSearchCost = getEnvInt("NEWS_SEARCH_COST", 1)
	cfg.VideoSearchCost = getEnvInt("VIDEO_SEARCH_COST", 100)
	cfg.VideoStatsCost = getEnvInt("VIDEO_STATS_COST", 1)
	cfg.QuotaTimezone = getEnvString("QUOTA_TIMEZONE", "UTC")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryInitialBackoff = getEnvDuration("RETRY_INITIAL_BACKOFF", 1*time.Second)
	cfg.RetryMaxBackoff = getEnvDuration("RETRY_MAX_BACKOFF", 30*time.Second)
	cfg.MaxItems = getEnvInt("MAX_ITEMS", 50)
	cfg.TrendingLimit = getEnvInt("TRENDING_LIMIT", 10)
	cfg.BackupRetention = getEnvInt("BACKUP_RETENTION", 5)
	cfg.RefreshExisting = getEnvBool("REFRESH_EXISTING", false)
	cfg.NewsSchedule = getEnvString("NEWS_SCHEDULE", "0 */6 * * *")
	cfg.VideoSchedule = getEnvString("VIDEO_SCHEDULE", "30 */6 * * *")
	cfg.FeedSchedule = getEnvString("FEED_SCHEDULE", "45 */6 * * *")
	cfg.EngagementSchedule = getEnvString("ENGAGEMENT_SCHEDULE", "15 * * * *")
	cfg.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", 14)
	cfg.EngagementAPIInterval = getEnvDuration("ENGAGEMENT_API_INTERVAL", 5*time.Second)
	cfg.EngagementMaxCallsPerCycle = getEnvInt("ENGAGEMENT_MAX_CALLS_PER_CYCLE", 20)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// QuotaLocation はクォータのリセット基準となるタイムゾーンを解決する。
// 解決に失敗した場合はUTCを返す。
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
