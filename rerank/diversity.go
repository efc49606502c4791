package rerank

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/utils"
)

// Diversity 是按标签打散的 ReRank：同一标签最多保留 MaxPerTag 部电影，
// 超出的依次后移到列表末尾，不丢弃。
// 标签来源优先级：
//   - label[LabelKey].Value
//   - 电影的第一个标签
type Diversity struct {
	LabelKey  string // 默认 "recall_tag"
	MaxPerTag int    // 默认 1
}

func (n *Diversity) Name() string {
	return "rerank.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *Diversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}

	key := n.LabelKey
	if key == "" {
		key = utils.LabelRecallTag
	}
	limit := n.MaxPerTag
	if limit <= 0 {
		limit = 1
	}

	seen := make(map[string]int, 32)
	out := make([]*core.Item, 0, len(items))
	rest := make([]*core.Item, 0)

	for _, it := range items {
		if it == nil {
			continue
		}
		tag := itemTag(it, key)
		if tag == "" {
			out = append(out, it)
			continue
		}
		if seen[tag] >= limit {
			rest = append(rest, it)
			continue
		}
		seen[tag]++
		out = append(out, it)
	}

	return append(out, rest...), nil
}

func itemTag(it *core.Item, key string) string {
	if it.Labels != nil {
		if lbl, ok := it.Labels[key]; ok && lbl.Value != "" {
			return lbl.Value
		}
	}
	if it.Movie != nil && len(it.Movie.Tags) > 0 {
		return it.Movie.Tags[0]
	}
	return ""
}
