package filter

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/dsl"
)

// ExprFilter 基于 CEL 表达式过滤。表达式返回 true 的电影被保留，
// Invert 为 true 时反过来，命中即过滤。
//
// 示例：
//
//	item.score >= 3.0
//	!("Horror" in item.tags)
//	label.recall_source == "latent_factor"
type ExprFilter struct {
	Expr   string
	Invert bool

	prg *dsl.Program
}

// NewExprFilter 编译表达式并创建过滤器，表达式非法时返回错误。
func NewExprFilter(expr string, invert bool) (*ExprFilter, error) {
	prg, err := dsl.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("filter.expr: %w", err)
	}
	return &ExprFilter{Expr: expr, Invert: invert, prg: prg}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

func (f *ExprFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	prg := f.prg
	if prg == nil {
		var err error
		if prg, err = dsl.Compile(f.Expr); err != nil {
			return false, err
		}
	}
	keep, err := prg.Evaluate(item, rctx)
	if err != nil {
		return false, err
	}
	if f.Invert {
		return keep, nil
	}
	return !keep, nil
}
