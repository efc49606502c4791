package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/movierec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	// programs 缓存编译好的表达式，key 为表达式原文
	programs sync.Map
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("item", cel.DynType),
			cel.Variable("label", cel.DynType),
			cel.Variable("rctx", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Program 是编译好的布尔表达式，可并发执行。
//
// 表达式语法（CEL 标准语法）：
//   - 数值：item.score >= 3.5 / item.id != 42
//   - 内容："Comedy" in item.tags / item.title.startsWith("The")
//   - 标签：label.recall_source == "cold_start"
//   - 存在性：label.recall_tag != null
//   - 上下文：rctx.user_id == 7 / rctx.params.top_n > 5
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式；相同表达式只编译一次。空表达式恒为 true。
func Compile(expr string) (*Program, error) {
	if cached, ok := programs.Load(expr); ok {
		return cached.(*Program), nil
	}
	p := &Program{expr: expr}
	if expr == "" {
		return p, nil
	}

	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	p.prg = prg

	actual, _ := programs.LoadOrStore(expr, p)
	return actual.(*Program), nil
}

// String 返回表达式原文。
func (p *Program) String() string { return p.expr }

// Evaluate 对单个电影求值，表达式必须返回布尔值。
func (p *Program) Evaluate(item *core.Item, rctx *core.RecommendContext) (bool, error) {
	if p.prg == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(buildInput(item, rctx))
	if err != nil {
		// 访问不存在的 key 会报错，应使用 label.key != null 判断
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 编译（带缓存）并执行表达式。
func Eval(expr string, item *core.Item, rctx *core.RecommendContext) (bool, error) {
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Evaluate(item, rctx)
}

func buildInput(item *core.Item, rctx *core.RecommendContext) map[string]interface{} {
	labels := make(map[string]interface{})
	itemMap := map[string]interface{}{
		"id":        int64(0),
		"score":     0.0,
		"predicted": false,
		"title":     "",
		"genres":    "",
		"tags":      []string{},
		"meta":      map[string]interface{}{},
	}
	if item != nil {
		for k, v := range item.Labels {
			labels[k] = v.Value
		}
		itemMap["id"] = item.ID
		itemMap["score"] = item.Score
		itemMap["predicted"] = item.Predicted
		if item.Meta != nil {
			itemMap["meta"] = item.Meta
		}
		if item.Movie != nil {
			itemMap["title"] = item.Movie.Title
			itemMap["genres"] = item.Movie.Genres
			itemMap["tags"] = item.Movie.Tags
		}
	}

	rctxMap := map[string]interface{}{
		"user_id": int64(0),
		"scene":   "",
		"params":  map[string]interface{}{},
	}
	if rctx != nil {
		rctxMap["user_id"] = rctx.UserID
		rctxMap["scene"] = rctx.Scene
		if rctx.Params != nil {
			rctxMap["params"] = rctx.Params
		}
	}

	return map[string]interface{}{
		"item":  itemMap,
		"label": labels,
		"rctx":  rctxMap,
	}
}
