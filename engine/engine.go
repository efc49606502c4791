// Package engine 把目录、评分、内容索引、隐因子模型和两条 Pipeline 组合成推荐服务。
//
// 并发模型：
//   - 每个 Engine 一把读写锁
//   - 写操作（评分/增删电影）持写锁：先写仓库，再同步重建派生数据，最后整体替换快照
//   - 读操作（推荐/相似/评分列表）在读锁下取得当前快照，之后只读该快照
//
// 因此读请求看到的永远是某次写完成后的完整状态，不会看到新目录配旧模型。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/content"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/dataset"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/logger"
	"github.com/rushteam/movierec/pkg/utils"
)

// DefaultTopN 是未指定 topN 时返回的推荐数量。
const DefaultTopN = 5

// Options 是引擎的构建参数。
type Options struct {
	SVD           model.SVDConfig
	DefaultTopN   int
	ColdStartTags int

	// Pipelines 为 nil 时使用 pipeline.DefaultConfig()
	Pipelines *pipeline.Config

	// BlacklistStore / BlacklistKey 供 filter.blacklist 使用（可选）
	BlacklistStore core.Store
	BlacklistKey   string

	Catalog config.CatalogConfig
	Logger  *logger.Logger
}

// OptionsFromConfig 从服务配置生成引擎参数。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SVD:           cfg.SVD(),
		DefaultTopN:   cfg.Recommend.DefaultTopN,
		ColdStartTags: cfg.Recommend.ColdStartTags,
		BlacklistKey:  cfg.Recommend.BlacklistKey,
		Catalog:       cfg.Catalog,
	}
}

// snapshot 是一次重建得到的全部派生数据，构建完成后只读。
type snapshot struct {
	movies  []core.Movie
	byID    map[int64]core.Movie
	ratings []core.Rating
	byUser  map[int64]map[int64]float64

	index *content.Index
	model *model.SVD

	personalized *pipeline.Pipeline
	coldStart    *pipeline.Pipeline
}

// Engine 是推荐引擎。
type Engine struct {
	repo dataset.Repository
	opts Options
	log  *logger.Logger

	mu    sync.RWMutex
	snap  *snapshot
	stale bool
	// catalogStale 表示上次目录重建失败，快照中的目录与索引已过期
	catalogStale bool
	closed       bool
}

// ErrClosed 表示引擎已经 Shutdown。
var ErrClosed = core.NewDomainError(core.ModuleEngine, core.ErrorCodeUnavailable, "engine: shut down")

// New 创建引擎；调用 Init 之前推荐结果为空。
func New(repo dataset.Repository, opts Options) *Engine {
	if opts.DefaultTopN <= 0 {
		opts.DefaultTopN = DefaultTopN
	}
	if opts.Pipelines == nil {
		opts.Pipelines = pipeline.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		repo:  repo,
		opts:  opts,
		log:   log.With("component", "engine"),
		stale: true,
	}
}

// Init 校验 Pipeline 配置并构建第一份快照。
func (e *Engine) Init(ctx context.Context) error {
	if err := config.ValidatePipelineConfig(e.factory(nil, nil), e.opts.Pipelines); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx, true)
}

// OnCatalogChanged 重新加载目录与评分，重建内容索引和模型。
func (e *Engine) OnCatalogChanged(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx, true)
}

// OnInteractionsChanged 重新加载评分并重训模型，内容索引沿用。
func (e *Engine) OnInteractionsChanged(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx, false)
}

// Shutdown 释放快照；之后的读返回空结果，写返回 ErrClosed。可重复调用。
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.snap = nil
	e.log.Info("engine shut down")
}

// rebuildLocked 必须持有写锁。失败时保留旧快照并标记 stale，下次读写会重试。
// 目录重建失败后，后续任何重建都会重新加载目录，直到成功为止。
func (e *Engine) rebuildLocked(ctx context.Context, catalog bool) error {
	if e.closed {
		return ErrClosed
	}
	catalog = catalog || e.catalogStale || e.snap == nil
	err := e.doRebuild(ctx, catalog)
	if err != nil {
		e.stale = true
		if catalog {
			e.catalogStale = true
		}
		e.log.Error("rebuild failed", "catalog", catalog, "err", err)
		return err
	}
	e.stale = false
	e.catalogStale = false
	return nil
}

func (e *Engine) doRebuild(ctx context.Context, catalog bool) error {
	start := time.Now()

	ratings, err := e.repo.Ratings(ctx)
	if err != nil {
		return fmt.Errorf("load ratings: %w", err)
	}

	next := &snapshot{ratings: ratings, byUser: groupByUser(ratings)}
	if catalog {
		if next.movies, err = e.repo.Movies(ctx); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	} else {
		next.movies = e.snap.movies
		next.index = e.snap.index
	}
	next.byID = make(map[int64]core.Movie, len(next.movies))
	for _, m := range next.movies {
		next.byID[m.ID] = m
	}

	g, gctx := errgroup.WithContext(ctx)
	if next.index == nil {
		g.Go(func() error {
			t := time.Now()
			idx, err := content.Build(gctx, next.movies)
			recordRebuild("index", t, err)
			if err != nil {
				return fmt.Errorf("build content index: %w", err)
			}
			next.index = idx
			return nil
		})
	}
	g.Go(func() error {
		t := time.Now()
		m := model.NewSVD(e.opts.SVD)
		err := m.Fit(gctx, ratings)
		recordRebuild("model", t, err)
		if err != nil {
			return fmt.Errorf("train model: %w", err)
		}
		next.model = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	f := e.factory(next.index, next.model)
	if next.personalized, err = pipeline.Build(string(StrategyPersonalized), e.opts.Pipelines.Personalized, f); err != nil {
		return fmt.Errorf("build personalized pipeline: %w", err)
	}
	if next.coldStart, err = pipeline.Build(string(StrategyColdStart), e.opts.Pipelines.ColdStart, f); err != nil {
		return fmt.Errorf("build cold start pipeline: %w", err)
	}

	e.snap = next
	CatalogSize.Set(float64(len(next.movies)))
	RatingsCount.Set(float64(len(next.ratings)))
	e.log.Info("snapshot rebuilt",
		"catalog", catalog,
		"movies", len(next.movies),
		"ratings", len(next.ratings),
		"model_trained", !next.model.Absent(),
		"rmse", next.model.RMSE(next.ratings),
		"duration", time.Since(start),
	)
	return nil
}

// factory 为一份快照创建 Node 工厂。
func (e *Engine) factory(idx *content.Index, m *model.SVD) *pipeline.NodeFactory {
	deps := config.Deps{
		Store:         e.opts.BlacklistStore,
		BlacklistKey:  e.opts.BlacklistKey,
		ColdStartTags: e.opts.ColdStartTags,
		OnPredictionError: func(movieID int64, err error) {
			PredictionFailuresTotal.Inc()
			e.log.Warn("prediction skipped", "movie_id", movieID, "err", err)
		},
		OnFilterError: func(filter string, item *core.Item, err error) {
			e.log.Warn("filter error", "filter", filter, "movie_id", item.ID, "err", err)
		},
	}
	// 保持接口值为 nil，避免 typed nil
	if idx != nil {
		deps.Index = idx
	}
	if m != nil {
		deps.Model = m
	}
	return config.NewFactory(deps)
}

func groupByUser(ratings []core.Rating) map[int64]map[int64]float64 {
	out := make(map[int64]map[int64]float64)
	for _, r := range ratings {
		rated, ok := out[r.UserID]
		if !ok {
			rated = make(map[int64]float64)
			out[r.UserID] = rated
		}
		rated[r.MovieID] = r.Score
	}
	return out
}

// current 返回可用的快照；上次重建失败时先尝试重建。
func (e *Engine) current(ctx context.Context) (*snapshot, error) {
	e.mu.RLock()
	snap, stale, closed := e.snap, e.stale, e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !stale && snap != nil {
		return snap, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.stale || e.snap == nil {
		if err := e.rebuildLocked(ctx, true); err != nil {
			return nil, err
		}
	}
	return e.snap, nil
}

// UserState 返回用户当前状态。
func (e *Engine) UserState(ctx context.Context, userID int64) UserState {
	snap, err := e.current(ctx)
	if err != nil {
		return UserNew
	}
	return snap.userState(userID)
}

func (s *snapshot) userState(userID int64) UserState {
	if len(s.byUser[userID]) == 0 {
		return UserNew
	}
	return UserWarm
}

// GetRecommendations 为用户生成最多 topN 条推荐（topN <= 0 时使用默认值）。
//
//   - New 用户走冷启动
//   - Warm 用户走个性化；没有未评分电影或模型缺失时降级为冷启动
//   - 任何内部错误都只记录日志，返回空列表
func (e *Engine) GetRecommendations(ctx context.Context, userID int64, topN int) *Result {
	if topN <= 0 {
		topN = e.opts.DefaultTopN
	}
	res := &Result{UserID: userID, Strategy: StrategyColdStart, Items: []Recommendation{}}

	snap, err := e.current(ctx)
	if err != nil {
		RecommendationErrorsTotal.Inc()
		e.log.Error("recommend: no usable snapshot", "user_id", userID, "err", err)
		return res
	}

	rctx := core.NewRecommendContext(userID, topN)
	rctx.Scene = "recommend"
	for id, score := range snap.byUser[userID] {
		rctx.Rated[id] = score
	}

	var items []*core.Item
	switch snap.userState(userID) {
	case UserWarm:
		res.Strategy, items, err = snap.personalizedItems(ctx, rctx)
	default:
		items, err = snap.run(ctx, snap.coldStart, StrategyColdStart, rctx)
	}
	RecommendationsTotal.WithLabelValues(string(res.Strategy)).Inc()

	if err != nil {
		RecommendationErrorsTotal.Inc()
		e.log.Error("recommend failed", "user_id", userID, "strategy", res.Strategy, "err", err)
		return res
	}
	res.Items = toRecommendations(items)
	if len(res.Items) > topN {
		res.Items = res.Items[:topN]
	}
	e.log.Debug("recommend", "user_id", userID, "strategy", res.Strategy, "count", len(res.Items))
	return res
}

// personalizedItems 执行个性化 Pipeline，必要时降级到冷启动。
func (s *snapshot) personalizedItems(ctx context.Context, rctx *core.RecommendContext) (Strategy, []*core.Item, error) {
	unrated := 0
	for _, m := range s.movies {
		if !rctx.HasRated(m.ID) {
			unrated++
		}
	}
	if unrated == 0 || s.model.Absent() {
		items, err := s.run(ctx, s.coldStart, StrategyColdStart, rctx)
		return StrategyColdStart, items, err
	}

	items, err := s.run(ctx, s.personalized, StrategyPersonalized, rctx)
	if errors.Is(err, core.ErrModelAbsent) {
		items, err = s.run(ctx, s.coldStart, StrategyColdStart, rctx)
		return StrategyColdStart, items, err
	}
	return StrategyPersonalized, items, err
}

// run 把当前策略写入 rctx（参数 strategy 与用户级 label），供 filter.expr 等节点读取。
func (s *snapshot) run(ctx context.Context, p *pipeline.Pipeline, strategy Strategy, rctx *core.RecommendContext) ([]*core.Item, error) {
	rctx.Params[core.ParamStrategy] = string(strategy)
	rctx.Labels[utils.LabelStrategy] = utils.Label{Value: string(strategy), Source: "engine"}
	return p.Run(ctx, rctx, nil)
}

// RateMovie 写入（或覆盖）评分并重训模型。
func (e *Engine) RateMovie(ctx context.Context, userID, movieID int64, score float64) error {
	if !core.ValidScore(score) {
		return core.NewInvalidScoreError(score)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if _, err := e.repo.User(ctx, userID); err != nil {
		if core.IsUnknownID(err) {
			return core.NewUnknownUserError(core.ModuleEngine, userID)
		}
		return err
	}
	if _, err := e.repo.Movie(ctx, movieID); err != nil {
		if core.IsUnknownID(err) {
			return core.NewUnknownItemError(core.ModuleEngine, movieID)
		}
		return err
	}
	if err := e.repo.UpsertRating(ctx, core.Rating{UserID: userID, MovieID: movieID, Score: score}); err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	e.log.Info("rating saved", "user_id", userID, "movie_id", movieID, "score", score)

	// 评分已落库；重建失败只影响派生数据，stale 标记会让下次读取重试
	_ = e.rebuildLocked(ctx, false)
	return nil
}

// AddMovie 新增电影（ID 为当前最大 ID + 1），并重建索引和模型。
// 开启 catalog.seed_rating 时以系统用户写入一条种子评分。
func (e *Engine) AddMovie(ctx context.Context, title, genres string) (core.Movie, error) {
	title, genres = strings.TrimSpace(title), strings.TrimSpace(genres)
	if title == "" || genres == "" {
		return core.Movie{}, core.NewDomainError(core.ModuleEngine, core.ErrorCodeInvalidInput, "title and genres are required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return core.Movie{}, ErrClosed
	}

	m, err := e.repo.AddMovie(ctx, title, genres)
	if err != nil {
		return core.Movie{}, fmt.Errorf("add movie: %w", err)
	}
	if e.opts.Catalog.SeedRating {
		seed := core.Rating{UserID: e.opts.Catalog.SeedUserID, MovieID: m.ID, Score: e.opts.Catalog.SeedScore}
		if err := e.repo.UpsertRating(ctx, seed); err != nil {
			return core.Movie{}, fmt.Errorf("seed rating: %w", err)
		}
	}
	e.log.Info("movie added", "movie_id", m.ID, "title", m.Title)

	_ = e.rebuildLocked(ctx, true)
	return m, nil
}

// DeleteMovie 删除电影及其全部评分，并重建索引和模型。
func (e *Engine) DeleteMovie(ctx context.Context, movieID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	removed, err := e.repo.DeleteMovie(ctx, movieID)
	if err != nil {
		if core.IsUnknownID(err) {
			return core.NewUnknownItemError(core.ModuleEngine, movieID)
		}
		// 删除可能已部分落库，快照按仓库当前状态重建
		_ = e.rebuildLocked(ctx, true)
		return fmt.Errorf("delete movie: %w", err)
	}
	e.log.Info("movie deleted", "movie_id", movieID, "ratings_removed", removed)

	_ = e.rebuildLocked(ctx, true)
	return nil
}

// UserRatings 返回用户评过分的电影（按电影 ID 升序）。
func (e *Engine) UserRatings(ctx context.Context, userID int64) ([]RatedMovie, error) {
	snap, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	rated := snap.byUser[userID]
	out := make([]RatedMovie, 0, len(rated))
	for id, score := range rated {
		rm := RatedMovie{MovieID: id, Rating: score}
		if m, ok := snap.byID[id]; ok {
			rm.Title, rm.Genres = m.Title, m.Genres
		}
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MovieID < out[j].MovieID })
	return out, nil
}

// SimilarMovies 返回内容最相似的 k 部电影（不含自身、不含相似度为 0 的）。
func (e *Engine) SimilarMovies(ctx context.Context, movieID int64, k int) ([]SimilarMovie, error) {
	snap, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.byID[movieID]; !ok {
		return nil, core.NewUnknownItemError(core.ModuleEngine, movieID)
	}
	neighbors := snap.index.MostSimilar(movieID, k)
	out := make([]SimilarMovie, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, SimilarMovie{
			MovieID:    n.Movie.ID,
			Title:      n.Movie.Title,
			Genres:     n.Movie.Genres,
			Similarity: n.Score,
		})
	}
	return out, nil
}

// HasUser 判断用户是否存在。
func (e *Engine) HasUser(ctx context.Context, userID int64) (bool, error) {
	if _, err := e.repo.User(ctx, userID); err != nil {
		if core.IsUnknownID(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stats 返回当前快照概况，不触发重建。
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{Stale: e.stale}
	if e.snap != nil {
		st.Movies = len(e.snap.movies)
		st.Ratings = len(e.snap.ratings)
		st.RatingUsers = len(e.snap.byUser)
		st.ModelTrained = !e.snap.model.Absent()
	}
	return st
}
