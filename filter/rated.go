package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
)

// RatedFilter 过滤用户已评分的电影，保证个性化结果里不出现看过的片子。
type RatedFilter struct{}

func (f *RatedFilter) Name() string {
	return "filter.rated"
}

func (f *RatedFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	return rctx.HasRated(item.ID), nil
}
