package scoring

// RecommendThreshold はバッチのスコア分布から採用閾値の推奨値を返す。
// 平均スコアが高いバッチには厳しい閾値、低いバッチには緩い閾値を提案し、
// 0.3〜0.6の範囲に収まる。閾値自体は呼び出し元が決定する（埋め込み既定値ではない）。
func RecommendThreshold(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.4
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	switch {
	case mean >= 0.5:
		return 0.6
	case mean >= 0.35:
		return 0.5
	case mean >= 0.2:
		return 0.4
	default:
		return 0.3
	}
}
