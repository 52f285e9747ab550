package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/security"
)

// NewsClientConfig はテキスト検索プロバイダのクライアント設定を表す。
type NewsClientConfig struct {
	BaseURL    string
	APIKey     string
	SearchCost int
	Retry      RetryPolicy
}

// NewsClient はテキスト検索APIのクライアント。
// 記事検索エンドポイントを呼び出し、レスポンスを正規化済みの
// ContentItemに変換する。
type NewsClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	sanitizer  security.TextSanitizerService
	quota      *QuotaTracker
	config     NewsClientConfig
}

// NewNewsClient はNewsClientの新しいインスタンスを生成する。
func NewNewsClient(
	httpClient *http.Client,
	logger *slog.Logger,
	sanitizer security.TextSanitizerService,
	quota *QuotaTracker,
	config NewsClientConfig,
) *NewsClient {
	if config.SearchCost <= 0 {
		config.SearchCost = 1
	}
	return &NewsClient{
		httpClient: httpClient,
		logger:     logger,
		sanitizer:  sanitizer,
		quota:      quota,
		config:     config,
	}
}

// Name はプロバイダ名を返す。
func (c *NewsClient) Name() string {
	return string(model.ProviderNews)
}

// UsageStats は現在のクォータ使用状況を返す。
func (c *NewsClient) UsageStats() QuotaStats {
	return c.quota.Stats()
}

// newsResponse は記事検索APIの生レスポンスを表す。
type newsResponse struct {
	Status       string        `json:"status"`
	Code         string        `json:"code"`
	Message      string        `json:"message"`
	TotalResults int           `json:"totalResults"`
	Articles     []newsArticle `json:"articles"`
}

// newsArticle は記事検索APIの生アイテムを表す。
// 正規化時に必須フィールドを検証するため、使用箇所での形状の仮定を避ける。
type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

// Search は記事検索APIを呼び出し、正規化済みアイテムと総件数を返す。
// クォータ消費 → ペーシング待機 → リトライ付きHTTP呼び出し → 境界検証の順に行う。
func (c *NewsClient) Search(ctx context.Context, query string, opts model.SearchOptions) ([]model.ContentItem, int, error) {
	if err := c.quota.Consume(c.config.SearchCost); err != nil {
		return nil, 0, err
	}

	reqURL, err := c.buildSearchURL(query, opts)
	if err != nil {
		return nil, 0, model.NewPermanentProviderError(fmt.Sprintf("検索URLの構築に失敗しました: %s", err))
	}

	var decoded newsResponse
	err = DoWithRetry(ctx, c.logger, c.config.Retry, "news_search", func() error {
		// 前回試行の部分的なデコード結果を持ち越さない
		decoded = newsResponse{}
		if err := c.quota.Limiter().Wait(ctx); err != nil {
			return model.NewTransientProviderError(err.Error())
		}
		return c.doSearch(ctx, reqURL, &decoded)
	})
	if err != nil {
		return nil, 0, err
	}

	result := c.normalize(decoded.Articles)
	if result.Dropped > 0 {
		c.logger.Warn("不正な形式の記事を破棄しました",
			slog.Int("dropped", result.Dropped),
			slog.Int("accepted", len(result.Items)),
		)
	}

	return result.Items, decoded.TotalResults, nil
}

// buildSearchURL は検索リクエストURLを構築する。
func (c *NewsClient) buildSearchURL(query string, opts model.SearchOptions) (string, error) {
	base, err := url.Parse(c.config.BaseURL + "/everything")
	if err != nil {
		return "", err
	}

	q := base.Query()
	q.Set("q", query)
	if opts.OrderBy != "" {
		q.Set("sortBy", opts.OrderBy)
	}
	if opts.PageSize > 0 {
		q.Set("pageSize", fmt.Sprintf("%d", opts.PageSize))
	}
	if opts.Locale != "" {
		q.Set("language", opts.Locale)
	}
	if opts.TimeWindow > 0 {
		from := time.Now().Add(-opts.TimeWindow).UTC().Format(time.RFC3339)
		q.Set("from", from)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// doSearch はHTTPリクエストを1回実行し、レスポンスをdecodedに格納する。
func (c *NewsClient) doSearch(ctx context.Context, reqURL string, decoded *newsResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.NewPermanentProviderError(fmt.Sprintf("リクエスト作成に失敗しました: %s", err))
	}
	req.Header.Set("User-Agent", "Curator/1.0 Content Pipeline")
	req.Header.Set("X-Api-Key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// タイムアウトを含むネットワークエラーはリトライ対象
		return model.NewTransientProviderError(err.Error())
	}
	defer resp.Body.Close()

	if err := ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewTransientProviderError(fmt.Sprintf("レスポンスの読み取りに失敗しました: %s", err))
	}

	if err := json.Unmarshal(body, decoded); err != nil {
		return model.NewPermanentProviderError(fmt.Sprintf("レスポンスJSONのパースに失敗しました: %s", err))
	}

	// HTTPが200でもボディでエラーを通知するAPIに対応する
	if decoded.Status == "error" {
		return model.NewPermanentProviderError(fmt.Sprintf("APIエラー %s: %s", decoded.Code, decoded.Message))
	}

	return nil
}

// normalize は生アイテムをContentItemに変換する。
// タイトル・URL欠落、公開日時のパース失敗は破棄して件数のみ記録する。
func (c *NewsClient) normalize(articles []newsArticle) SearchResult {
	result := SearchResult{Items: make([]model.ContentItem, 0, len(articles))}

	for _, a := range articles {
		if a.Title == "" || a.URL == "" {
			result.Dropped++
			continue
		}

		publishedAt, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			result.Dropped++
			continue
		}

		sourceName := a.Source.Name
		if sourceName == "" {
			sourceName = a.Author
		}

		result.Items = append(result.Items, model.ContentItem{
			ID:          CanonicalURL(a.URL),
			Title:       c.sanitizer.Sanitize(a.Title),
			BodySnippet: c.sanitizer.Sanitize(a.Description),
			URL:         a.URL,
			PublishedAt: publishedAt,
			SourceName:  sourceName,
			Provider:    model.ProviderNews,
		})
	}

	result.TotalAvailable = len(result.Items)
	return result
}

// CanonicalURL はURLを同一性判定用の自然キーに正規化する。
// ホストを小文字化し、クエリ・フラグメント・末尾スラッシュを除去する。
// パースできないURLは入力をそのまま返す。
func CanonicalURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String()
}
