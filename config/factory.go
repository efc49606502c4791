package config

import (
	"fmt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/filter"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/conv"
	"github.com/rushteam/movierec/rank"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/rerank"
)

// ContentIndex 是 Node 需要的内容索引能力，content.Index 实现了它。
type ContentIndex interface {
	recall.TagIndex
	recall.Catalog
}

// Deps 是 Node 构建所依赖的运行时对象，每次快照重建时传入新的索引与模型。
type Deps struct {
	Index ContentIndex
	Model model.Predictor

	// Store 供 filter.blacklist 读取在线黑名单（可选）
	Store        core.Store
	BlacklistKey string

	// ColdStartTags 是 recall.cold_start 未配置 tag_count 时的默认值
	ColdStartTags int

	OnPredictionError func(movieID int64, err error)
	OnFilterError     func(filter string, item *core.Item, err error)
}

// NewFactory 返回注册了全部内置 Node 的工厂。
func NewFactory(deps Deps) *pipeline.NodeFactory {
	b := &builders{deps: deps}
	f := pipeline.NewNodeFactory()

	// 注册 Recall Nodes
	f.Register("recall.cold_start", b.coldStart)
	f.Register("recall.latent_factor", b.latentFactor)

	// 注册 Filter Nodes
	f.Register("filter", b.filterChain)
	f.Register("filter.rated", b.single(b.rated))
	f.Register("filter.expr", b.single(b.expr))
	f.Register("filter.blacklist", b.single(b.blacklist))

	// 注册 Rank Nodes
	f.Register("rank.score", b.score)

	// 注册 ReRank Nodes
	f.Register("rerank.topn", b.topN)
	f.Register("rerank.diversity", b.diversity)

	return f
}

// ValidatePipelineConfig 校验 pipeline 配置中所有 node 类型均已注册。
func ValidatePipelineConfig(f *pipeline.NodeFactory, cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	for _, nodes := range [][]pipeline.NodeConfig{cfg.Personalized, cfg.ColdStart} {
		for _, nc := range nodes {
			if !f.Has(nc.Type) {
				return fmt.Errorf("unsupported node type %q (supported: %v)", nc.Type, f.Types())
			}
		}
	}
	return nil
}

type builders struct {
	deps Deps
}

type filterBuilder func(config map[string]interface{}) (filter.Filter, error)

// single 把单个过滤器包装成 FilterNode。
func (b *builders) single(build filterBuilder) pipeline.NodeBuilder {
	return func(config map[string]interface{}) (pipeline.Node, error) {
		f, err := build(config)
		if err != nil {
			return nil, err
		}
		return &filter.FilterNode{Filters: []filter.Filter{f}, OnError: b.deps.OnFilterError}, nil
	}
}

func (b *builders) coldStart(config map[string]interface{}) (pipeline.Node, error) {
	def := b.deps.ColdStartTags
	if def <= 0 {
		def = recall.DefaultColdStartTags
	}
	n := conv.ConfigGetInt(config, "tag_count", def)
	if n <= 0 {
		return nil, fmt.Errorf("tag_count must be positive, got %d", n)
	}
	return &recall.ColdStart{Index: b.deps.Index, TagCount: n}, nil
}

func (b *builders) latentFactor(_ map[string]interface{}) (pipeline.Node, error) {
	return &recall.LatentFactor{
		Model:   b.deps.Model,
		Catalog: b.deps.Index,
		OnError: b.deps.OnPredictionError,
	}, nil
}

func (b *builders) filterChain(config map[string]interface{}) (pipeline.Node, error) {
	filtersConfig, ok := config["filters"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}

	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]interface{})
		if !ok {
			continue
		}
		var build filterBuilder
		switch filterType := conv.ConfigGet(filterMap, "type", ""); filterType {
		case "rated":
			build = b.rated
		case "expr":
			build = b.expr
		case "blacklist":
			build = b.blacklist
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
		f, err := build(filterMap)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return &filter.FilterNode{Filters: filters, OnError: b.deps.OnFilterError}, nil
}

func (b *builders) rated(_ map[string]interface{}) (filter.Filter, error) {
	return &filter.RatedFilter{}, nil
}

func (b *builders) expr(config map[string]interface{}) (filter.Filter, error) {
	expr := conv.ConfigGet(config, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("expr not found")
	}
	return filter.NewExprFilter(expr, conv.ConfigGet(config, "invert", false))
}

func (b *builders) blacklist(config map[string]interface{}) (filter.Filter, error) {
	ids := conv.SliceAnyToInt64(config["item_ids"])
	key := conv.ConfigGet(config, "key", b.deps.BlacklistKey)
	var store core.Store
	if key != "" {
		store = b.deps.Store
	}
	return filter.NewBlacklistFilter(ids, store, key), nil
}

func (b *builders) score(_ map[string]interface{}) (pipeline.Node, error) {
	return &rank.ScoreNode{}, nil
}

func (b *builders) topN(config map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: conv.ConfigGetInt(config, "n", 0)}, nil
}

func (b *builders) diversity(config map[string]interface{}) (pipeline.Node, error) {
	return &rerank.Diversity{
		LabelKey:  conv.ConfigGet(config, "label_key", ""),
		MaxPerTag: conv.ConfigGetInt(config, "max_per_tag", 1),
	}, nil
}
