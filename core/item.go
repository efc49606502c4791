package core

import "github.com/rushteam/movierec/pkg/utils"

// Item 是推荐链路中的统一承载结构：电影、分数、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
// Predicted 为 true 时 Score 是隐因子模型的预测评分，会透出给调用方。
type Item struct {
	ID        int64
	Score     float64
	Predicted bool
	Movie     *Movie
	Meta      map[string]any
	Labels    map[string]utils.Label
}

func NewItem(id int64) *Item {
	return &Item{
		ID:     id,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// NewMovieItem 以电影构造 Item。
func NewMovieItem(m *Movie) *Item {
	it := NewItem(m.ID)
	it.Movie = m
	return it
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}
