package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NEWS_API_KEY", "news-key")
	t.Setenv("VIDEO_API_KEY", "video-key")
}

func TestLoad_RequiredVariablesMissing(t *testing.T) {
	t.Setenv("NEWS_API_KEY", "")
	t.Setenv("VIDEO_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("必須環境変数が未設定の場合はエラーを返すべき")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("読み込みに失敗した: %v", err)
	}

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.MaxItems != 50 {
		t.Errorf("MaxItems = %d, want 50", cfg.MaxItems)
	}
	if cfg.TrendingLimit != 10 {
		t.Errorf("TrendingLimit = %d, want 10", cfg.TrendingLimit)
	}
	if cfg.BackupRetention != 5 {
		t.Errorf("BackupRetention = %d, want 5", cfg.BackupRetention)
	}
	if cfg.RefreshExisting {
		t.Error("RefreshExisting のデフォルトは false であるべき")
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("RetryMaxAttempts = %d, want 3", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialBackoff != time.Second {
		t.Errorf("RetryInitialBackoff = %v, want 1s", cfg.RetryInitialBackoff)
	}
	if cfg.NewsSchedule != "0 */6 * * *" {
		t.Errorf("NewsSchedule = %q, want 0 */6 * * *", cfg.NewsSchedule)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.QuotaTimezone != "UTC" {
		t.Errorf("QuotaTimezone = %q, want UTC", cfg.QuotaTimezone)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_ITEMS", "100")
	t.Setenv("REFRESH_EXISTING", "true")
	t.Setenv("RETRY_INITIAL_BACKOFF", "500ms")
	t.Setenv("QUOTA_TIMEZONE", "Asia/Tokyo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("読み込みに失敗した: %v", err)
	}

	if cfg.MaxItems != 100 {
		t.Errorf("MaxItems = %d, want 100", cfg.MaxItems)
	}
	if !cfg.RefreshExisting {
		t.Error("REFRESH_EXISTING=true が反映されるべき")
	}
	if cfg.RetryInitialBackoff != 500*time.Millisecond {
		t.Errorf("RetryInitialBackoff = %v, want 500ms", cfg.RetryInitialBackoff)
	}
	if cfg.QuotaLocation().String() != "Asia/Tokyo" {
		t.Errorf("QuotaLocation = %v, want Asia/Tokyo", cfg.QuotaLocation())
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_ITEMS", "たくさん")
	t.Setenv("REFRESH_EXISTING", "maybe")
	t.Setenv("PROVIDER_TIMEOUT", "すぐ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("読み込みに失敗した: %v", err)
	}

	if cfg.MaxItems != 50 {
		t.Errorf("MaxItems = %d, 不正な値はデフォルト50にフォールバックすべき", cfg.MaxItems)
	}
	if cfg.RefreshExisting {
		t.Error("不正なbool値はデフォルトfalseにフォールバックすべき")
	}
	if cfg.ProviderTimeout != 10*time.Second {
		t.Errorf("ProviderTimeout = %v, want 10s", cfg.ProviderTimeout)
	}
}

func TestQuotaLocation_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	cfg := &Config{QuotaTimezone: "Mars/Olympus"}
	if loc := cfg.QuotaLocation(); loc != time.UTC {
		t.Errorf("不正なタイムゾーンはUTCにフォールバックすべき: %v", loc)
	}
}
