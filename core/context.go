package core

import "github.com/rushteam/movierec/pkg/utils"

// 常用的请求参数 key。
const (
	ParamTopN     = "top_n"
	ParamStrategy = "strategy"
)

// RecommendContext 承载用户/场景/请求参数，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID int64
	Scene  string

	// Rated 是用户已评分的电影 ID 集合（请求开始时从实时评分日志计算）
	Rated map[int64]float64

	// Labels 是用户级标签，例如 strategy=cold_start
	Labels map[string]utils.Label

	// Params 请求级参数：top_n 等
	Params map[string]any
}

// NewRecommendContext 创建请求上下文。
func NewRecommendContext(userID int64, topN int) *RecommendContext {
	return &RecommendContext{
		UserID: userID,
		Rated:  make(map[int64]float64),
		Labels: make(map[string]utils.Label),
		Params: map[string]any{ParamTopN: topN},
	}
}

// TopN 返回请求的结果数量，未设置时返回 0。
func (rctx *RecommendContext) TopN() int {
	if rctx == nil || rctx.Params == nil {
		return 0
	}
	n, _ := rctx.Params[ParamTopN].(int)
	return n
}

// HasRated 判断用户是否已对电影评分。
func (rctx *RecommendContext) HasRated(movieID int64) bool {
	if rctx == nil || rctx.Rated == nil {
		return false
	}
	_, ok := rctx.Rated[movieID]
	return ok
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
