package recall

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/utils"
)

// DefaultColdStartTags 是冷启动使用的热门标签数量。
const DefaultColdStartTags = 3

// TagIndex 是冷启动所需的内容索引能力，content.Index 实现了它。
type TagIndex interface {
	MostPopularTags(n int) []string
	ItemsWithTag(tag string) []core.Movie
}

// ColdStart 是面向无评分历史用户的召回源。
//
// 算法：
//  1. 取全目录出现次数最多的 TagCount 个标签（默认 3）
//  2. 按热度降序遍历标签，按目录顺序收集携带该标签的电影
//  3. 按电影 ID 去重（先出现者保留），截断到 TopN
//
// 结果是确定性的，只依赖目录内容，不读取评分历史。
type ColdStart struct {
	Index    TagIndex
	TagCount int
}

func (r *ColdStart) Name() string        { return "recall.cold_start" }
func (r *ColdStart) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *ColdStart) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口。目录为空时返回空切片。
func (r *ColdStart) Recall(
	_ context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	out := make([]*core.Item, 0)
	if r.Index == nil {
		return out, nil
	}

	tagCount := r.TagCount
	if tagCount <= 0 {
		tagCount = DefaultColdStartTags
	}
	topN := rctx.TopN()

	seen := make(map[int64]struct{})
	for _, tag := range r.Index.MostPopularTags(tagCount) {
		for _, m := range r.Index.ItemsWithTag(tag) {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}

			movie := m
			it := core.NewMovieItem(&movie)
			it.PutLabel(utils.LabelRecallSource, utils.Label{Value: "cold_start", Source: "recall"})
			it.PutLabel(utils.LabelRecallTag, utils.Label{Value: tag, Source: "recall"})
			out = append(out, it)

			if topN > 0 && len(out) >= topN {
				return out, nil
			}
		}
	}
	return out, nil
}

var _ Source = (*ColdStart)(nil)
var _ pipeline.Node = (*ColdStart)(nil)
