package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// FeedGuardService は外部フィード取得時のSSRF防止機能のインターフェースを定義する。
// フィードURLは設定ファイル由来だが、運用ミスでプライベートアドレスが
// 紛れ込んだ場合に備えて取得経路全体を検証する。
type FeedGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストがDialerレベルでブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はURLの安全性を事前に静的検証する。
	// DNS再バインディング攻撃はNewSafeClient側のDialer検証で防止される。
	ValidateURL(rawURL string) error
}

// feedGuard はFeedGuardServiceの実装。
type feedGuard struct{}

// NewFeedGuard はFeedGuardServiceの新しいインスタンスを生成する。
func NewFeedGuard() *feedGuard {
	return &feedGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func (g *feedGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	wrapped := safeurl.Client(config)
	return wrapped.Client
}

// ValidateURL はURLの安全性を事前に静的検証する。
// スキーム（http/https）、空ホスト、ループバック・プライベートIPを拒否する。
func (g *feedGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLのパースに失敗しました: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("許可されていないスキームです: %s", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("ホストが空です: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("ブロック対象のホストです: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("ブロック対象のIPアドレスです: %s", ip.String())
		}
	}

	return nil
}
