package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/curator/internal/model"
)

// Subject はキュレーション対象の題材定義を表す。
// 正式名称・別名・説明語句はすべてスコアリングの照合に使用される。
type Subject struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases"`
	Descriptors []string `yaml:"descriptors"`
}

// ScoringWeights は各サブスコアの重みを表す。合計は1.0でなければならない。
type ScoringWeights struct {
	Subject   float64 `yaml:"subject"`
	Alias     float64 `yaml:"alias"`
	Domain    float64 `yaml:"domain"`
	Authority float64 `yaml:"authority"`
	Recency   float64 `yaml:"recency"`
}

// ScoringRules はスコアリングの調整パラメータ一式を表す。
// 類似度や各ボーナスの定数は経験的に選ばれた既定値であり、
// ルールファイルで上書き可能なチューニング対象として扱う。
type ScoringRules struct {
	Weights              ScoringWeights      `yaml:"weights"`
	Dampening            float64             `yaml:"dampening"`
	NegativePenaltyCap   float64             `yaml:"negative_penalty_cap"`
	DomainKeywords       map[string][]string `yaml:"domain_keywords"`
	NegativeKeywords     []string            `yaml:"negative_keywords"`
	AuthoritativeSources []string            `yaml:"authoritative_sources"`
	DomainTokens         []string            `yaml:"domain_tokens"`
}

// DedupeRules は重複排除の調整パラメータを表す。
type DedupeRules struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TitleWeight         float64 `yaml:"title_weight"`
	BodyWeight          float64 `yaml:"body_weight"`
}

// Rules はYAMLルールファイル全体を表す。
// 許可リスト・ドメインキーワード・検索戦略は設定であり、
// ビジネスロジックにハードコードしない。
type Rules struct {
	Subject         Subject                `yaml:"subject"`
	Scoring         ScoringRules           `yaml:"scoring"`
	Dedupe          DedupeRules            `yaml:"dedupe"`
	ScoreThreshold  float64                `yaml:"score_threshold"`
	MaxCandidates   int                    `yaml:"max_candidates"`
	NewsStrategies  []model.SearchStrategy `yaml:"news_strategies"`
	VideoStrategies []model.SearchStrategy `yaml:"video_strategies"`
	FeedStrategies  []model.SearchStrategy `yaml:"feed_strategies"`
	FeedURLs        []string               `yaml:"feed_urls"`
}

// LoadRules はYAMLルールファイルを読み込み、既定値の補完と検証を行う。
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ルールファイルの読み込みに失敗しました: %w", err)
	}

	rules := &Rules{}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("ルールファイルのパースに失敗しました: %w", err)
	}

	rules.applyDefaults()

	if err := rules.Validate(); err != nil {
		return nil, err
	}

	return rules, nil
}

// applyDefaults は未指定のチューニングパラメータに既定値を補完する。
func (r *Rules) applyDefaults() {
	w := &r.Scoring.Weights
	if w.Subject == 0 && w.Alias == 0 && w.Domain == 0 && w.Authority == 0 && w.Recency == 0 {
		*w = ScoringWeights{
			Subject:   0.45,
			Alias:     0.10,
			Domain:    0.10,
			Authority: 0.25,
			Recency:   0.10,
		}
	}
	if r.Scoring.Dampening == 0 {
		r.Scoring.Dampening = 0.1
	}
	if r.Scoring.NegativePenaltyCap == 0 {
		r.Scoring.NegativePenaltyCap = 0.3
	}
	if r.Dedupe.SimilarityThreshold == 0 {
		r.Dedupe.SimilarityThreshold = 0.8
	}
	if r.Dedupe.TitleWeight == 0 && r.Dedupe.BodyWeight == 0 {
		r.Dedupe.TitleWeight = 0.6
		r.Dedupe.BodyWeight = 0.4
	}
	if r.ScoreThreshold == 0 {
		r.ScoreThreshold = 0.4
	}
	if r.MaxCandidates == 0 {
		r.MaxCandidates = 60
	}
	for i := range r.NewsStrategies {
		if r.NewsStrategies[i].Weight == 0 {
			r.NewsStrategies[i].Weight = 1.0
		}
	}
	for i := range r.VideoStrategies {
		if r.VideoStrategies[i].Weight == 0 {
			r.VideoStrategies[i].Weight = 1.0
		}
	}
	for i := range r.FeedStrategies {
		if r.FeedStrategies[i].Weight == 0 {
			r.FeedStrategies[i].Weight = 1.0
		}
	}
}

// Validate はルール定義の整合性を検証する。
func (r *Rules) Validate() error {
	if r.Subject.Name == "" {
		return fmt.Errorf("subject.name は必須です")
	}

	w := r.Scoring.Weights
	sum := w.Subject + w.Alias + w.Domain + w.Authority + w.Recency
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("スコアリング重みの合計は1.0である必要があります: %.4f", sum)
	}

	if r.Dedupe.SimilarityThreshold <= 0 || r.Dedupe.SimilarityThreshold > 1 {
		return fmt.Errorf("dedupe.similarity_threshold は(0,1]の範囲で指定してください: %.2f", r.Dedupe.SimilarityThreshold)
	}

	all := append([]model.SearchStrategy{}, r.NewsStrategies...)
	all = append(all, r.VideoStrategies...)
	all = append(all, r.FeedStrategies...)

	seen := make(map[string]bool)
	for _, s := range all {
		if s.Name == "" {
			return fmt.Errorf("戦略名は必須です（query: %q）", s.Query)
		}
		if s.Query == "" {
			return fmt.Errorf("戦略 %s のクエリは必須です", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("戦略名が重複しています: %s", s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}
