package pipeline

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/core"
)

// Pipeline 把推荐逻辑拆成可组合的 Node 链：召回 → 过滤 → 排序 → 截断。
type Pipeline struct {
	Name  string
	Nodes []Node
}

// Run 依次执行各个 Node，任一 Node 出错立即返回（错误中带上 Node 名称）。
func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := node.Process(ctx, rctx, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}
