package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RebuildsTotal 统计派生数据重建次数（artifact: index/model，result: ok/error）
	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_rebuilds_total",
			Help: "Total number of derived artifact rebuilds",
		},
		[]string{"artifact", "result"},
	)

	// RebuildDuration 统计重建耗时
	RebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movierec_rebuild_duration_seconds",
			Help:    "Duration of derived artifact rebuilds in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"artifact"},
	)

	// RecommendationsTotal 按策略统计推荐请求
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_recommendations_total",
			Help: "Total number of recommendation requests by strategy",
		},
		[]string{"strategy"},
	)

	// RecommendationErrorsTotal 统计被吞掉的推荐错误（返回空列表）
	RecommendationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_recommendation_errors_total",
			Help: "Total number of recommendation requests answered with an empty list after an error",
		},
	)

	// PredictionFailuresTotal 统计被跳过的单次预测失败
	PredictionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_prediction_failures_total",
			Help: "Total number of skipped per-movie prediction failures",
		},
	)

	// CatalogSize / RatingsCount 是当前快照的规模
	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movierec_catalog_movies",
			Help: "Number of movies in the current snapshot",
		},
	)
	RatingsCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movierec_ratings",
			Help: "Number of ratings in the current snapshot",
		},
	)
)

func recordRebuild(artifact string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RebuildsTotal.WithLabelValues(artifact, result).Inc()
	RebuildDuration.WithLabelValues(artifact).Observe(time.Since(start).Seconds())
}
