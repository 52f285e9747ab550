package model

import "testing"

func TestWeightedScore(t *testing.T) {
	item := ContentItem{RelevanceScore: 0.8, StrategyWeight: 1.5}
	want := item.RelevanceScore * item.StrategyWeight
	if got := item.WeightedScore(); got != want {
		t.Errorf("WeightedScore = %.3f, want %.3f", got, want)
	}

	// 重み未設定は1.0として扱う
	plain := ContentItem{RelevanceScore: 0.8}
	if got := plain.WeightedScore(); got != 0.8 {
		t.Errorf("WeightedScore = %.3f, want 0.8", got)
	}
}

func TestDataset_ContainsID(t *testing.T) {
	featured := ContentItem{ID: "featured"}
	ds := Dataset{
		Featured: &featured,
		Items:    []ContentItem{{ID: "a"}, {ID: "b"}},
	}

	if !ds.ContainsID("featured") {
		t.Error("Featured のIDも検索対象であるべき")
	}
	if !ds.ContainsID("a") {
		t.Error("Items のIDが見つかるべき")
	}
	if ds.ContainsID("missing") {
		t.Error("存在しないIDは false であるべき")
	}
}

func TestDataset_AllItems(t *testing.T) {
	featured := ContentItem{ID: "featured"}
	ds := Dataset{
		Featured: &featured,
		Items:    []ContentItem{{ID: "a"}},
	}

	all := ds.AllItems()
	if len(all) != 2 {
		t.Fatalf("件数 = %d, want 2", len(all))
	}
	if all[0].ID != "featured" {
		t.Errorf("先頭 = %q, Featured が先頭であるべき", all[0].ID)
	}
}
