package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/dataset"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/store"
)

func testSVD() model.SVDConfig {
	cfg := model.DefaultSVDConfig()
	cfg.Factors = 8
	cfg.Epochs = 30
	cfg.Seed = 7
	return cfg
}

type fixture struct {
	repo   *dataset.KVRepository
	engine *Engine
}

func newFixture(t *testing.T, movies []core.Movie, users []int64, ratings []core.Rating, mutate ...func(*Options)) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := dataset.NewMemoryRepository()
	t.Cleanup(func() { _ = repo.Close() })

	for _, m := range movies {
		require.NoError(t, repo.PutMovie(ctx, m))
	}
	for _, id := range users {
		_, err := repo.AddUser(ctx, core.User{ID: id, Username: fmt.Sprintf("user%d", id)})
		require.NoError(t, err)
	}
	for _, r := range ratings {
		require.NoError(t, repo.UpsertRating(ctx, r))
	}

	opts := Options{SVD: testSVD(), DefaultTopN: 10, ColdStartTags: 3}
	for _, fn := range mutate {
		fn(&opts)
	}
	e := New(repo, opts)
	require.NoError(t, e.Init(ctx))
	return &fixture{repo: repo, engine: e}
}

func smallCatalog() []core.Movie {
	return []core.Movie{
		core.NewMovie(1, "A", "Action|Comedy"),
		core.NewMovie(2, "B", "Action"),
	}
}

func movieIDs(recs []Recommendation) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.MovieID)
	}
	return out
}

func TestGetRecommendations_ColdStartWithoutRatings(t *testing.T) {
	f := newFixture(t, smallCatalog(), []int64{7}, nil)

	res := f.engine.GetRecommendations(context.Background(), 7, 5)
	assert.Equal(t, StrategyColdStart, res.Strategy)
	assert.Equal(t, []int64{1, 2}, movieIDs(res.Items))
	for _, rec := range res.Items {
		assert.Nil(t, rec.PredictedScore)
	}
	assert.Equal(t, "A", res.Items[0].Title)
}

func TestGetRecommendations_PersonalizedAfterRating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{7}, nil)

	require.NoError(t, f.engine.RateMovie(ctx, 7, 1, 5.0))
	assert.Equal(t, UserWarm, f.engine.UserState(ctx, 7))

	res := f.engine.GetRecommendations(ctx, 7, 1)
	assert.Equal(t, StrategyPersonalized, res.Strategy)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(2), res.Items[0].MovieID)
	require.NotNil(t, res.Items[0].PredictedScore)
	assert.GreaterOrEqual(t, *res.Items[0].PredictedScore, core.MinScore)
	assert.LessOrEqual(t, *res.Items[0].PredictedScore, core.MaxScore)
}

func TestRateMovie_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{7}, nil)

	tests := []struct {
		name   string
		user   int64
		movie  int64
		score  float64
		target error
	}{
		{name: "score above range", user: 7, movie: 1, score: 6.0, target: core.ErrInvalidScore},
		{name: "score below range", user: 7, movie: 1, score: 0.4, target: core.ErrInvalidScore},
		{name: "unknown user", user: 99, movie: 1, score: 4, target: core.ErrUnknownUser},
		{name: "unknown movie", user: 7, movie: 99, score: 4, target: core.ErrUnknownItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.RateMovie(ctx, tt.user, tt.movie, tt.score)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	ratings, err := f.repo.Ratings(ctx)
	require.NoError(t, err)
	assert.Empty(t, ratings)
	assert.Equal(t, UserNew, f.engine.UserState(ctx, 7))
}

func TestRateMovie_BoundaryScoresAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{7}, nil)

	require.NoError(t, f.engine.RateMovie(ctx, 7, 1, core.MinScore))
	require.NoError(t, f.engine.RateMovie(ctx, 7, 2, core.MaxScore))
	require.NoError(t, f.engine.RateMovie(ctx, 7, 2, core.MaxScore))

	rated, err := f.engine.UserRatings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []RatedMovie{
		{MovieID: 1, Title: "A", Genres: "Action|Comedy", Rating: core.MinScore},
		{MovieID: 2, Title: "B", Genres: "Action", Rating: core.MaxScore},
	}, rated)
}

func TestDeleteMovie_Cascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{7},
		[]core.Rating{{UserID: 7, MovieID: 1, Score: 5}})
	require.Equal(t, UserWarm, f.engine.UserState(ctx, 7))

	require.NoError(t, f.engine.DeleteMovie(ctx, 1))

	ratings, err := f.repo.Ratings(ctx)
	require.NoError(t, err)
	assert.Empty(t, ratings)
	assert.Equal(t, UserNew, f.engine.UserState(ctx, 7))

	res := f.engine.GetRecommendations(ctx, 7, 5)
	assert.Equal(t, []int64{2}, movieIDs(res.Items))

	_, err = f.engine.SimilarMovies(ctx, 1, 5)
	assert.ErrorIs(t, err, core.ErrUnknownItem)

	err = f.engine.DeleteMovie(ctx, 1)
	assert.ErrorIs(t, err, core.ErrUnknownItem)

	st := f.engine.Stats()
	assert.Equal(t, 1, st.Movies)
	assert.Equal(t, 0, st.Ratings)
	assert.False(t, st.ModelTrained)
}

func TestColdStart_Deterministic(t *testing.T) {
	movies := []core.Movie{
		core.NewMovie(1, "A", "Action|Comedy"),
		core.NewMovie(2, "B", "Action"),
		core.NewMovie(3, "C", "Drama"),
		core.NewMovie(4, "D", "Horror"),
		core.NewMovie(5, "E", "Comedy|Drama"),
	}
	f := newFixture(t, movies, []int64{1, 2}, nil)
	ctx := context.Background()

	first := f.engine.GetRecommendations(ctx, 1, 10)
	second := f.engine.GetRecommendations(ctx, 2, 10)
	assert.Equal(t, []int64{1, 2, 5, 3}, movieIDs(first.Items))
	assert.Equal(t, first.Items, second.Items)
}

func TestPersonalized_ExcludesRatedMovies(t *testing.T) {
	movies := []core.Movie{
		core.NewMovie(1, "A", "Action"),
		core.NewMovie(2, "B", "Action|Thriller"),
		core.NewMovie(3, "C", "Drama"),
		core.NewMovie(4, "D", "Drama|Romance"),
		core.NewMovie(5, "E", "Comedy"),
	}
	ratings := []core.Rating{
		{UserID: 1, MovieID: 1, Score: 5}, {UserID: 1, MovieID: 2, Score: 4.5}, {UserID: 1, MovieID: 3, Score: 1},
		{UserID: 2, MovieID: 1, Score: 4}, {UserID: 2, MovieID: 4, Score: 2}, {UserID: 2, MovieID: 5, Score: 3},
		{UserID: 3, MovieID: 3, Score: 5}, {UserID: 3, MovieID: 4, Score: 4.5},
	}
	f := newFixture(t, movies, []int64{1, 2, 3}, ratings)
	ctx := context.Background()

	for _, user := range []int64{1, 2, 3} {
		res := f.engine.GetRecommendations(ctx, user, 10)
		assert.Equal(t, StrategyPersonalized, res.Strategy)
		rated, err := f.engine.UserRatings(ctx, user)
		require.NoError(t, err)
		for _, r := range rated {
			assert.NotContains(t, movieIDs(res.Items), r.MovieID, "user %d", user)
		}
		assert.Len(t, res.Items, len(movies)-len(rated))

		// 分数降序，同分按 ID 升序
		for i := 1; i < len(res.Items); i++ {
			prev, cur := res.Items[i-1], res.Items[i]
			require.NotNil(t, prev.PredictedScore)
			require.NotNil(t, cur.PredictedScore)
			if *prev.PredictedScore == *cur.PredictedScore {
				assert.Less(t, prev.MovieID, cur.MovieID)
			} else {
				assert.Greater(t, *prev.PredictedScore, *cur.PredictedScore)
			}
		}
	}
}

func TestPersonalized_FallsBackWhenEverythingRated(t *testing.T) {
	f := newFixture(t, smallCatalog(), []int64{7}, []core.Rating{
		{UserID: 7, MovieID: 1, Score: 4},
		{UserID: 7, MovieID: 2, Score: 3},
	})
	res := f.engine.GetRecommendations(context.Background(), 7, 5)
	assert.Equal(t, StrategyColdStart, res.Strategy)
	assert.Equal(t, []int64{1, 2}, movieIDs(res.Items))
}

func TestGetRecommendations_EmptyRatingsAlwaysColdStart(t *testing.T) {
	f := newFixture(t, smallCatalog(), []int64{1, 2, 3}, nil)
	for _, user := range []int64{1, 2, 3, 42} {
		res := f.engine.GetRecommendations(context.Background(), user, 0)
		assert.Equal(t, StrategyColdStart, res.Strategy)
	}
	assert.False(t, f.engine.Stats().ModelTrained)
}

func TestGetRecommendations_EmptyCatalog(t *testing.T) {
	f := newFixture(t, nil, []int64{1}, nil)
	res := f.engine.GetRecommendations(context.Background(), 1, 5)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}

func TestAddMovie(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{7}, nil)

	m, err := f.engine.AddMovie(ctx, "C", "Comedy|Drama")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.ID)
	assert.Equal(t, []string{"Comedy", "Drama"}, m.Tags)

	similar, err := f.engine.SimilarMovies(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, int64(1), similar[0].MovieID)

	_, err = f.engine.AddMovie(ctx, "", "Drama")
	assert.True(t, core.IsInvalidInput(err))
	_, err = f.engine.AddMovie(ctx, "D", "  ")
	assert.True(t, core.IsInvalidInput(err))
}

func TestAddMovie_SeedRating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), nil, nil, func(o *Options) {
		o.Catalog = config.CatalogConfig{SeedRating: true, SeedUserID: 0, SeedScore: 3.0}
	})

	m, err := f.engine.AddMovie(ctx, "C", "Drama")
	require.NoError(t, err)

	ratings, err := f.repo.Ratings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Rating{{UserID: 0, MovieID: m.ID, Score: 3.0}}, ratings)
	assert.True(t, f.engine.Stats().ModelTrained)
}

func TestSimilarMovies(t *testing.T) {
	f := newFixture(t, []core.Movie{
		core.NewMovie(1, "A", "Action|Comedy"),
		core.NewMovie(2, "B", "Action"),
		core.NewMovie(3, "C", "Drama"),
	}, nil, nil)

	similar, err := f.engine.SimilarMovies(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, int64(2), similar[0].MovieID)
	assert.InDelta(t, 0.70710678, similar[0].Similarity, 1e-6)
}

func TestHasUser(t *testing.T) {
	f := newFixture(t, smallCatalog(), []int64{7}, nil)
	ok, err := f.engine.HasUser(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.engine.HasUser(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPipelines_Configurable(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.ColdStart = []pipeline.NodeConfig{
		{Type: "recall.cold_start"},
		{Type: "filter.blacklist", Config: map[string]interface{}{"item_ids": []interface{}{1}}},
		{Type: "rerank.topn"},
	}
	f := newFixture(t, smallCatalog(), []int64{7}, nil, func(o *Options) { o.Pipelines = cfg })

	res := f.engine.GetRecommendations(context.Background(), 7, 5)
	assert.Equal(t, []int64{2}, movieIDs(res.Items))
}

func TestInit_RejectsUnknownNodeType(t *testing.T) {
	repo := dataset.NewMemoryRepository()
	defer repo.Close()
	cfg := &pipeline.Config{
		Personalized: []pipeline.NodeConfig{{Type: "rank.lr"}},
		ColdStart:    pipeline.DefaultConfig().ColdStart,
	}
	e := New(repo, Options{SVD: testSVD(), Pipelines: cfg})
	err := e.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank.lr")
}

// flakyRepo 在 fail 为 true 时读取评分失败
type flakyRepo struct {
	*dataset.KVRepository
	fail atomic.Bool
}

func (r *flakyRepo) Ratings(ctx context.Context) ([]core.Rating, error) {
	if r.fail.Load() {
		return nil, errors.New("storage offline")
	}
	return r.KVRepository.Ratings(ctx)
}

func TestRebuildFailure_StaleThenRecovers(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{KVRepository: dataset.NewMemoryRepository()}
	defer repo.Close()
	for _, m := range smallCatalog() {
		require.NoError(t, repo.PutMovie(ctx, m))
	}
	_, err := repo.AddUser(ctx, core.User{ID: 7, Username: "u7"})
	require.NoError(t, err)

	e := New(repo, Options{SVD: testSVD()})
	require.NoError(t, e.Init(ctx))

	repo.fail.Store(true)
	// 写入成功，但重建失败
	require.NoError(t, e.RateMovie(ctx, 7, 1, 4))
	assert.True(t, e.Stats().Stale)

	res := e.GetRecommendations(ctx, 7, 5)
	assert.Empty(t, res.Items)

	repo.fail.Store(false)
	res = e.GetRecommendations(ctx, 7, 5)
	assert.Equal(t, StrategyPersonalized, res.Strategy)
	assert.Equal(t, []int64{2}, movieIDs(res.Items))
	assert.False(t, e.Stats().Stale)
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{1, 2, 3}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := int64(i%3 + 1)
			if i%2 == 0 {
				assert.NoError(t, f.engine.RateMovie(ctx, user, int64(i%2+1), 4))
				return
			}
			res := f.engine.GetRecommendations(ctx, user, 5)
			assert.NotNil(t, res.Items)
		}(i)
	}
	wg.Wait()
	assert.False(t, f.engine.Stats().Stale)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, smallCatalog(), []int64{7}, nil)

	f.engine.Shutdown()
	f.engine.Shutdown()

	res := f.engine.GetRecommendations(ctx, 7, 5)
	assert.Empty(t, res.Items)
	assert.ErrorIs(t, f.engine.RateMovie(ctx, 7, 1, 4), ErrClosed)
	_, err := f.engine.AddMovie(ctx, "C", "Drama")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.engine.DeleteMovie(ctx, 1), ErrClosed)
	_, err = f.engine.UserRatings(ctx, 7)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDeleteMovie_TagPopularityRebuilt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []core.Movie{
		core.NewMovie(1, "A", "Comedy|Drama"),
		core.NewMovie(2, "B", "Drama"),
		core.NewMovie(3, "C", "Comedy"),
		core.NewMovie(4, "D", "Comedy"),
	}, []int64{7}, nil, func(o *Options) { o.ColdStartTags = 1 })

	res := f.engine.GetRecommendations(ctx, 7, 10)
	assert.Equal(t, []int64{1, 3, 4}, movieIDs(res.Items))

	// 删除后 Comedy 只剩 1 次，Drama 变为最热门
	require.NoError(t, f.engine.DeleteMovie(ctx, 3))
	require.NoError(t, f.engine.DeleteMovie(ctx, 4))
	res = f.engine.GetRecommendations(ctx, 7, 10)
	assert.Equal(t, []int64{1, 2}, movieIDs(res.Items))
}

func TestPipelines_ExprSeesStrategy(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.ColdStart = []pipeline.NodeConfig{
		{Type: "recall.cold_start"},
		{Type: "filter.expr", Config: map[string]interface{}{
			"expr": `rctx.params.strategy == "cold_start" && item.id != 1`,
		}},
		{Type: "rerank.topn"},
	}
	f := newFixture(t, smallCatalog(), []int64{7}, nil, func(o *Options) { o.Pipelines = cfg })

	res := f.engine.GetRecommendations(context.Background(), 7, 5)
	assert.Equal(t, []int64{2}, movieIDs(res.Items))
}

func TestCatalogRebuildFailure_InteractionsRebuildReloadsCatalog(t *testing.T) {
	catalog := []core.Movie{
		core.NewMovie(1, "A", "Action|Comedy"),
		core.NewMovie(2, "B", "Action"),
		core.NewMovie(3, "C", "Drama"),
	}
	tests := []struct {
		name    string
		trigger func(ctx context.Context, e *Engine) error
	}{
		{
			name:    "rate movie",
			trigger: func(ctx context.Context, e *Engine) error { return e.RateMovie(ctx, 8, 3, 4) },
		},
		{
			name: "interactions changed",
			trigger: func(ctx context.Context, e *Engine) error {
				return e.OnInteractionsChanged(ctx)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := &flakyRepo{KVRepository: dataset.NewMemoryRepository()}
			defer repo.Close()
			for _, m := range catalog {
				require.NoError(t, repo.PutMovie(ctx, m))
			}
			for _, id := range []int64{7, 8} {
				_, err := repo.AddUser(ctx, core.User{ID: id, Username: fmt.Sprintf("user%d", id)})
				require.NoError(t, err)
			}
			require.NoError(t, repo.UpsertRating(ctx, core.Rating{UserID: 8, MovieID: 2, Score: 5}))

			e := New(repo, Options{SVD: testSVD()})
			require.NoError(t, e.Init(ctx))

			// 删除已落库，但目录重建失败
			repo.fail.Store(true)
			require.NoError(t, e.DeleteMovie(ctx, 1))
			assert.True(t, e.Stats().Stale)

			repo.fail.Store(false)
			require.NoError(t, tt.trigger(ctx, e))

			st := e.Stats()
			assert.False(t, st.Stale)
			assert.Equal(t, 2, st.Movies)

			cold := e.GetRecommendations(ctx, 7, 10)
			assert.Equal(t, StrategyColdStart, cold.Strategy)
			assert.NotContains(t, movieIDs(cold.Items), int64(1))

			warm := e.GetRecommendations(ctx, 8, 10)
			assert.NotContains(t, movieIDs(warm.Items), int64(1))

			_, err := e.SimilarMovies(ctx, 1, 5)
			assert.ErrorIs(t, err, core.ErrUnknownItem)
		})
	}
}

func TestGetRecommendations_DefaultTopN(t *testing.T) {
	movies := make([]core.Movie, 0, 8)
	for i := int64(1); i <= 8; i++ {
		movies = append(movies, core.NewMovie(i, fmt.Sprintf("M%d", i), "Action"))
	}
	f := newFixture(t, movies, []int64{7}, nil, func(o *Options) { o.DefaultTopN = 0 })

	res := f.engine.GetRecommendations(context.Background(), 7, 0)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, movieIDs(res.Items))
	assert.Len(t, res.Items, DefaultTopN)
}

// ratingsHDelFails 让评分 Hash 的删除失败，模拟删除电影只完成一半
type ratingsHDelFails struct {
	*store.MemoryStore
}

func (s *ratingsHDelFails) HDel(ctx context.Context, key string, fields ...string) error {
	if key == "movierec:ratings" {
		return errors.New("connection reset")
	}
	return s.MemoryStore.HDel(ctx, key, fields...)
}

func TestDeleteMovie_PartialFailureRebuildsSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := dataset.NewKVRepository(&ratingsHDelFails{MemoryStore: store.NewMemoryStore()}, "")
	defer repo.Close()
	for _, m := range smallCatalog() {
		require.NoError(t, repo.PutMovie(ctx, m))
	}
	require.NoError(t, repo.UpsertRating(ctx, core.Rating{UserID: 7, MovieID: 1, Score: 4}))

	e := New(repo, Options{SVD: testSVD()})
	require.NoError(t, e.Init(ctx))

	require.Error(t, e.DeleteMovie(ctx, 1))

	res := e.GetRecommendations(ctx, 9, 5)
	assert.Equal(t, []int64{2}, movieIDs(res.Items))
	assert.Equal(t, 1, e.Stats().Movies)
}
