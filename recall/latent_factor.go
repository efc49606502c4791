package recall

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/utils"
)

// Catalog 提供目录顺序的全部电影，content.Index 实现了它。
type Catalog interface {
	Movies() []core.Movie
}

// LatentFactor 是基于隐因子模型的个性化召回源。
//
// 对用户未评分的每一部电影调用 Model.Predict 打分：
//   - 单次预测失败只跳过该电影（交给 OnError 记录），不影响整体
//   - 模型缺失时返回 core.ErrModelAbsent，由上层降级到冷启动
//
// 输出未排序；排序与截断交给 rank.ScoreNode / rerank.TopNNode。
type LatentFactor struct {
	Model   model.Predictor
	Catalog Catalog

	// OnError 在单次预测失败时回调（可选，用于日志/监控）
	OnError func(movieID int64, err error)
}

func (r *LatentFactor) Name() string        { return "recall.latent_factor" }
func (r *LatentFactor) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *LatentFactor) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *LatentFactor) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	if r.Model == nil || r.Model.Absent() {
		return nil, core.ErrModelAbsent
	}
	if r.Catalog == nil || rctx == nil {
		return nil, nil
	}

	movies := r.Catalog.Movies()
	out := make([]*core.Item, 0, len(movies))
	for i := range movies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := movies[i]
		if rctx.HasRated(m.ID) {
			continue
		}
		score, err := r.Model.Predict(rctx.UserID, m.ID)
		if err != nil {
			if r.OnError != nil {
				r.OnError(m.ID, err)
			}
			continue
		}
		it := core.NewMovieItem(&m)
		it.Score = score
		it.Predicted = true
		it.PutLabel(utils.LabelRecallSource, utils.Label{Value: "latent_factor", Source: "recall"})
		it.PutLabel(utils.LabelRankModel, utils.Label{Value: r.Model.Name(), Source: "recall"})
		out = append(out, it)
	}
	return out, nil
}

var _ Source = (*LatentFactor)(nil)
var _ pipeline.Node = (*LatentFactor)(nil)
