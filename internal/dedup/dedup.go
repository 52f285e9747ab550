// Package dedup は候補アイテムの重複排除を提供する。
// 完全一致（正規化コンテンツハッシュ）と近似重複（トークン重なり類似度）の
// 2段階で判定し、クラスタごとに正規代表を1件選出する。
package dedup

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/scoring"
)

// DuplicateGroup は重複と判定されたアイテムのクラスタを表す。
type DuplicateGroup struct {
	ID           string   `json:"id"`
	CanonicalID  string   `json:"canonical_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
	Similarity   float64  `json:"similarity"`
}

// Result は重複排除の結果を表す。
type Result struct {
	Unique []model.ContentItem
	Groups []DuplicateGroup
}

// Deduplicator は2段階の重複排除を行う。
// バッチは1回の実行あたり数十件程度を想定しており、
// 近似重複判定は採用済み集合に対するO(n^2)の総当たりで行う。
// 判定は入力順序に依存する。
type Deduplicator struct {
	titleWeight          float64
	bodyWeight           float64
	authoritativeSources []string
}

// NewDeduplicator はDeduplicatorの新しいインスタンスを生成する。
// titleWeight/bodyWeightは類似度の重み（既定: 0.6/0.4）。
func NewDeduplicator(titleWeight, bodyWeight float64, authoritativeSources []string) *Deduplicator {
	if titleWeight <= 0 && bodyWeight <= 0 {
		titleWeight = 0.6
		bodyWeight = 0.4
	}
	return &Deduplicator{
		titleWeight:          titleWeight,
		bodyWeight:           bodyWeight,
		authoritativeSources: authoritativeSources,
	}
}

// Dedupe は完全一致と近似重複を畳み込み、ユニーク集合と重複グループを返す。
//
// 第1段階: 正規化した（タイトル+スニペット+ソース）のハッシュが
// 既出のアイテムを破棄する。
// 第2段階: 採用済み集合との最良類似度がsimilarityThreshold以上の場合は
// 追加せず、新アイテムと既存アイテムから正規代表を選出する。
// 新アイテムが代表に勝った場合は、残りの採用済み集合に対して閾値以上の
// 一致がなくなるまで判定を繰り返し、一致したクラスタを併合する。
// このため、ユニーク集合内のどの2アイテムも類似度は閾値未満となり、
// ユニーク集合を再入力しても結果は変わらない。
// 代表選出の優先順位: (a)本文が長い方 → (b)公開日時が新しい方 →
// (c)権威ソース許可リスト一致 → (d)既存を維持。
func (d *Deduplicator) Dedupe(items []model.ContentItem, similarityThreshold float64) Result {
	seenHashes := make(map[string]bool)
	var unique []model.ContentItem
	groups := make(map[string]*DuplicateGroup) // 代表アイテムIDをキーとする

	for _, item := range items {
		hash := contentHash(item)
		if seenHashes[hash] {
			continue
		}
		seenHashes[hash] = true

		current := item
		var group *DuplicateGroup
		absorbed := false

		for {
			bestIdx, bestSim := d.bestMatch(current, unique)
			if bestIdx < 0 || bestSim < similarityThreshold {
				break
			}
			incumbent := unique[bestIdx]

			if group == nil {
				if existing, ok := groups[incumbent.ID]; ok {
					group = existing
				} else {
					group = &DuplicateGroup{ID: uuid.New().String()}
				}
			} else if other, ok := groups[incumbent.ID]; ok {
				// 連鎖的に併合されたクラスタのグループを統合する
				group.DuplicateIDs = append(group.DuplicateIDs, other.DuplicateIDs...)
				delete(groups, incumbent.ID)
			}
			if bestSim > group.Similarity {
				group.Similarity = bestSim
			}

			if !d.wins(current, incumbent) {
				group.CanonicalID = incumbent.ID
				group.DuplicateIDs = append(group.DuplicateIDs, current.ID)
				groups[incumbent.ID] = group
				absorbed = true
				break
			}

			// 新アイテムが勝った場合は既存代表を外し、
			// 残りの集合に対して再判定する
			group.DuplicateIDs = append(group.DuplicateIDs, incumbent.ID)
			delete(groups, incumbent.ID)
			unique = append(unique[:bestIdx], unique[bestIdx+1:]...)
		}

		if !absorbed {
			unique = append(unique, current)
			if group != nil {
				group.CanonicalID = current.ID
				groups[current.ID] = group
			}
		}
	}

	result := Result{Unique: unique}
	for _, group := range groups {
		result.Groups = append(result.Groups, *group)
	}
	return result
}

// bestMatch は採用済み集合の中で最も類似度が高いアイテムの
// インデックスと類似度を返す。集合が空の場合は(-1, 0)。
func (d *Deduplicator) bestMatch(item model.ContentItem, accepted []model.ContentItem) (int, float64) {
	bestIdx := -1
	var bestSim float64
	for i, a := range accepted {
		sim := d.Similarity(item, a)
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	return bestIdx, bestSim
}

// Similarity は2アイテムのトークン重なり類似度を返す。
// タイトルと本文それぞれの単語集合のJaccard係数を
// タイトル60%・本文40%で加重合算する。
// 両者とも本文が空の場合はタイトルのみで判定する。
func (d *Deduplicator) Similarity(a, b model.ContentItem) float64 {
	titleSim := jaccard(tokenize(a.Title), tokenize(b.Title))

	bodyA := tokenize(a.BodySnippet)
	bodyB := tokenize(b.BodySnippet)
	if len(bodyA) == 0 && len(bodyB) == 0 {
		return titleSim
	}

	bodySim := jaccard(bodyA, bodyB)
	return titleSim*d.titleWeight + bodySim*d.bodyWeight
}

// wins は新アイテムが既存の正規代表に勝つかを判定する。
func (d *Deduplicator) wins(challenger, incumbent model.ContentItem) bool {
	// (a) 本文が長い方
	if len(challenger.BodySnippet) != len(incumbent.BodySnippet) {
		return len(challenger.BodySnippet) > len(incumbent.BodySnippet)
	}
	// (b) 公開日時が新しい方
	if !challenger.PublishedAt.Equal(incumbent.PublishedAt) {
		return challenger.PublishedAt.After(incumbent.PublishedAt)
	}
	// (c) 権威ソース一致
	challengerAuth := scoring.IsAuthoritativeSource(challenger.SourceName, d.authoritativeSources)
	incumbentAuth := scoring.IsAuthoritativeSource(incumbent.SourceName, d.authoritativeSources)
	if challengerAuth != incumbentAuth {
		return challengerAuth
	}
	// (d) 既存を維持
	return false
}

// contentHash は正規化した（タイトル+スニペット+ソース）のSHA-256ハッシュを返す。
func contentHash(item model.ContentItem) string {
	data := fmt.Sprintf("%s|%s|%s",
		normalize(item.Title),
		normalize(item.BodySnippet),
		normalize(item.SourceName),
	)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// normalize は小文字化と空白の畳み込みを行う。
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenize はテキストを小文字の単語集合に変換する。
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(s), isSeparator) {
		tokens[word] = true
	}
	return tokens
}

// isSeparator は単語区切り文字（英数字以外）を判定する。
func isSeparator(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return false
	case r >= '0' && r <= '9':
		return false
	case r >= 0x3040: // ひらがな以降のマルチバイト文字は語の一部として扱う
		return false
	default:
		return true
	}
}

// jaccard は2つの単語集合のJaccard係数を返す。両方空の場合は0。
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var intersection int
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
