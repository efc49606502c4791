// Package movierec 是一个电影推荐服务。
//
// 设计要点：
//   - 评分历史为空的用户走内容冷启动（热门标签 → 电影），有评分的用户走隐因子模型（SVD）
//   - 两条路径都是 Pipeline：Recall → Filter → Rank → ReRank，节点可由 YAML 编排
//   - 每次写入（评分、增删电影）后同步重建索引与模型，读请求只看到完整快照
//
// 各子包：engine 组合推荐逻辑，dataset 负责持久化，server 提供 HTTP 接口，
// cmd/movierec 是命令行入口。
package movierec

import (
	"github.com/rushteam/movierec/engine"
	"github.com/rushteam/movierec/pipeline"
)

// 轻量 facade：便于直接 import "movierec" 使用核心抽象。
type (
	Engine         = engine.Engine
	Options        = engine.Options
	Result         = engine.Result
	Recommendation = engine.Recommendation
	Strategy       = engine.Strategy

	Pipeline = pipeline.Pipeline
	Node     = pipeline.Node
	Kind     = pipeline.Kind
)

const (
	StrategyColdStart    = engine.StrategyColdStart
	StrategyPersonalized = engine.StrategyPersonalized

	KindRecall = pipeline.KindRecall
	KindFilter = pipeline.KindFilter
	KindRank   = pipeline.KindRank
	KindReRank = pipeline.KindReRank
)

// NewEngine 等同于 engine.New。
var NewEngine = engine.New
