// Package scoring は候補アイテムの主題関連度スコアリングを提供する。
// スコアは[0,1]に正規化された決定的な値であり、同一アイテム・同一設定に
// 対して常に同一の結果を返す。
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/curator/internal/config"
	"github.com/hitoshi/curator/internal/model"
)

const (
	// descriptorContribution は説明語句1つの一致あたりの加点。
	descriptorContribution = 0.25
	// keywordContribution はドメインキーワード1ヒットあたりの加点。
	keywordContribution = 0.15
	// keywordCategoryCap はキーワードカテゴリ1つあたりの加点上限。
	keywordCategoryCap = 0.4
	// negativeContribution は否定キーワード1ヒットあたりの減点。
	negativeContribution = 0.1
	// bodyLengthBonus は長い本文への加点（recencyサブスコア内）。
	bodyLengthBonus = 0.2
	// bodyLengthThreshold は本文加点の文字数閾値。
	bodyLengthThreshold = 200
)

// ScoreResult はスコアリングの結果を表す。
// Explanationは各サブスコアの内訳を示す説明文字列。
type ScoreResult struct {
	Value          float64
	Explanation    string
	SubjectMatched bool
	Category       string
	Tags           []string
}

// Scorer は重み付きキーワード/カテゴリルールによる関連度スコアラー。
// ルール（別名・キーワード・許可リスト・重み）はすべて設定由来で、
// インスタンス生成後は変更されない。
type Scorer struct {
	subject config.Subject
	rules   config.ScoringRules
	now     func() time.Time
}

// NewScorer はScorerの新しいインスタンスを生成する。
func NewScorer(subject config.Subject, rules config.ScoringRules) *Scorer {
	return &Scorer{
		subject: subject,
		rules:   rules,
		now:     time.Now,
	}
}

// Score はアイテムの主題関連度を[0,1]で算出する。
//
// 各サブスコア（いずれも[0,1]）を合計1.0の固定重みで加重合算する:
//   - 主題一致: タイトルに正式名称/別名が含まれれば1.0、本文のみなら0.7
//   - 説明語句一致: 一致した語句ごとに加点（上限あり）
//   - ドメインキーワード密度: カテゴリ別上限付きでヒット数を加点
//   - ソース権威: 許可リスト一致は高ボーナス、ドメイントークン一致は部分ボーナス
//   - 鮮度: 経過日数の段階ボーナス + 長い本文への小ボーナス
//
// 否定キーワードのヒットは上限付きで減点する。
// 主題一致サブスコアが0の場合、最終スコアに小さな減衰係数を乗じる
// （主題の不在は他のシグナルに関わらずほぼ失格として扱う）。
func (s *Scorer) Score(item model.ContentItem) ScoreResult {
	title := strings.ToLower(item.Title)
	body := strings.ToLower(item.BodySnippet)

	subjectScore := s.subjectScore(title, body)
	aliasScore, matchedDescriptors := s.descriptorScore(title, body)
	domainScore, matchedKeywords, topCategory := s.domainScore(title + " " + body)
	authorityScore := s.authorityScore(item)
	recencyScore := s.recencyScore(item)
	penalty := s.negativePenalty(title + " " + body)

	w := s.rules.Weights
	value := subjectScore*w.Subject +
		aliasScore*w.Alias +
		domainScore*w.Domain +
		authorityScore*w.Authority +
		recencyScore*w.Recency
	value -= penalty

	if subjectScore == 0 {
		value *= s.rules.Dampening
	}

	value = clamp01(value)

	explanation := fmt.Sprintf(
		"主題:%.2f 説明語句:%.2f キーワード:%.2f 権威:%.2f 鮮度:%.2f 減点:%.2f → %.3f",
		subjectScore, aliasScore, domainScore, authorityScore, recencyScore, penalty, value,
	)

	return ScoreResult{
		Value:          value,
		Explanation:    explanation,
		SubjectMatched: subjectScore > 0,
		Category:       s.category(item, topCategory),
		Tags:           mergeTags(matchedDescriptors, matchedKeywords),
	}
}

// Enrich はスコアリング結果をアイテムに書き込む。
// 再取り込み時は以前のスコアを上書きする。
func (s *Scorer) Enrich(item *model.ContentItem) {
	result := s.Score(*item)
	item.RelevanceScore = result.Value
	item.SubjectMatched = result.SubjectMatched
	item.Category = result.Category
	item.Tags = result.Tags
	item.QualityScore = s.qualityScore(*item)
}

// subjectScore は正式名称/別名の出現位置によるサブスコアを返す。
func (s *Scorer) subjectScore(title, body string) float64 {
	names := append([]string{s.subject.Name}, s.subject.Aliases...)
	for _, name := range names {
		if name == "" {
			continue
		}
		if strings.Contains(title, strings.ToLower(name)) {
			return 1.0
		}
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if strings.Contains(body, strings.ToLower(name)) {
			return 0.7
		}
	}
	return 0
}

// descriptorScore は説明語句の一致によるサブスコアと一致語句を返す。
func (s *Scorer) descriptorScore(title, body string) (float64, []string) {
	text := title + " " + body
	var score float64
	var matched []string
	for _, d := range s.subject.Descriptors {
		if d == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(d)) {
			score += descriptorContribution
			matched = append(matched, strings.ToLower(d))
		}
	}
	return clamp01(score), matched
}

// domainScore はドメインキーワード密度のサブスコア、一致キーワード、
// 最多ヒットカテゴリを返す。各カテゴリの加点は独立に上限が適用される。
func (s *Scorer) domainScore(text string) (float64, []string, string) {
	var total float64
	var matched []string
	var topCategory string
	var topHits int

	// mapの走査順に依存しないようカテゴリ名でソートする
	categories := make([]string, 0, len(s.rules.DomainKeywords))
	for category := range s.rules.DomainKeywords {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		var hits int
		for _, kw := range s.rules.DomainKeywords[category] {
			if kw == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(kw)) {
				hits++
				matched = append(matched, strings.ToLower(kw))
			}
		}
		total += math.Min(float64(hits)*keywordContribution, keywordCategoryCap)
		if hits > topHits {
			topHits = hits
			topCategory = category
		}
	}

	return clamp01(total), matched, topCategory
}

// authorityScore はソース権威のサブスコアを返す。
// 許可リスト一致は1.0、ソース名/URL内のドメイントークン一致は0.5、
// それ以外は低いベースライン0.1。
func (s *Scorer) authorityScore(item model.ContentItem) float64 {
	if IsAuthoritativeSource(item.SourceName, s.rules.AuthoritativeSources) {
		return 1.0
	}

	haystack := strings.ToLower(item.SourceName + " " + item.URL)
	for _, token := range s.rules.DomainTokens {
		if token == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(token)) {
			return 0.5
		}
	}
	return 0.1
}

// recencyScore は経過日数の段階ボーナスと本文長ボーナスのサブスコアを返す。
func (s *Scorer) recencyScore(item model.ContentItem) float64 {
	age := s.now().Sub(item.PublishedAt)

	var score float64
	switch {
	case age <= 7*24*time.Hour:
		score = 1.0
	case age <= 30*24*time.Hour:
		score = 0.7
	case age <= 90*24*time.Hour:
		score = 0.4
	default:
		score = 0.1
	}

	if len([]rune(item.BodySnippet)) >= bodyLengthThreshold {
		score += bodyLengthBonus
	}
	return clamp01(score)
}

// negativePenalty は否定キーワードのヒット数に比例した減点を返す（上限あり）。
func (s *Scorer) negativePenalty(text string) float64 {
	var hits int
	for _, kw := range s.rules.NegativeKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			hits++
		}
	}
	return math.Min(float64(hits)*negativeContribution, s.rules.NegativePenaltyCap)
}

// category はスコアリング中に判定したカテゴリを返す。
// キーワードヒットがない場合はプロバイダ種別に基づくフォールバックを使用する。
func (s *Scorer) category(item model.ContentItem, topCategory string) string {
	if topCategory != "" {
		return topCategory
	}
	if item.Provider == model.ProviderVideo {
		return "video"
	}
	return "general"
}

// qualityScore はプロバイダ種別ごとの品質スコアを算出する。
// 動画は再生数の対数スケール、テキストは本文長とソース権威に基づく。
func (s *Scorer) qualityScore(item model.ContentItem) float64 {
	if item.Provider == model.ProviderVideo {
		views := item.Engagement["views"]
		if views <= 0 {
			return 0.3
		}
		// 10^7再生で1.0に到達する対数スケール
		return clamp01(math.Log10(float64(views)+1) / 7)
	}

	score := 0.3
	if len([]rune(item.BodySnippet)) >= bodyLengthThreshold {
		score += 0.3
	}
	if IsAuthoritativeSource(item.SourceName, s.rules.AuthoritativeSources) {
		score += 0.4
	}
	return clamp01(score)
}

// IsAuthoritativeSource はソース名が権威ソース許可リストに一致するかを返す。
// 照合は大文字小文字を区別しない部分一致で行う。
func IsAuthoritativeSource(sourceName string, allowlist []string) bool {
	lower := strings.ToLower(sourceName)
	if lower == "" {
		return false
	}
	for _, src := range allowlist {
		if src == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(src)) {
			return true
		}
	}
	return false
}

// mergeTags は一致した説明語句とキーワードを重複排除して結合する。
func mergeTags(descriptors, keywords []string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range append(descriptors, keywords...) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	return tags
}

// clamp01 は値を[0,1]の範囲に収める。
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
