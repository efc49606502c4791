package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rushteam/movierec/account"
	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/dataset"
	"github.com/rushteam/movierec/engine"
	"github.com/rushteam/movierec/model"
)

type testEnv struct {
	handler http.Handler
	adminID int64
	userID  int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := dataset.NewMemoryRepository()
	t.Cleanup(func() { _ = repo.Close() })
	for _, m := range []core.Movie{
		core.NewMovie(1, "Toy Story (1995)", "Adventure|Animation|Children"),
		core.NewMovie(2, "Jumanji (1995)", "Adventure|Children|Fantasy"),
		core.NewMovie(3, "Heat (1995)", "Action|Crime|Thriller"),
	} {
		require.NoError(t, repo.PutMovie(ctx, m))
	}

	accounts := account.NewService(repo, nil).WithCost(bcrypt.MinCost)
	adminID, err := accounts.Register(ctx, "root", "rootpw", true)
	require.NoError(t, err)
	userID, err := accounts.Register(ctx, "alice", "alicepw", false)
	require.NoError(t, err)

	svd := model.DefaultSVDConfig()
	svd.Factors, svd.Epochs, svd.Seed = 4, 20, 1
	eng := engine.New(repo, engine.Options{SVD: svd})
	require.NoError(t, eng.Init(ctx))

	cfg := config.Default().Server
	srv := New(eng, accounts, cfg, 50, nil)
	return &testEnv{handler: srv.Handler(), adminID: adminID, userID: userID}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
	}{
		{name: "register ok", target: "/register", body: `{"username":"bob","password":"pw"}`, wantStatus: http.StatusOK},
		{name: "register duplicate", target: "/register", body: `{"username":"alice","password":"pw"}`, wantStatus: http.StatusConflict},
		{name: "register missing password", target: "/register", body: `{"username":"carol"}`, wantStatus: http.StatusBadRequest},
		{name: "register bad json", target: "/register", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "login ok", target: "/login", body: `{"username":"alice","password":"alicepw"}`, wantStatus: http.StatusOK},
		{name: "login wrong password", target: "/login", body: `{"username":"alice","password":"nope"}`, wantStatus: http.StatusUnauthorized},
		{name: "login unknown user", target: "/login", body: `{"username":"zed","password":"pw"}`, wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	_, body := env.do(t, http.MethodPost, "/login", `{"username":"root","password":"rootpw"}`)
	assert.Equal(t, float64(env.adminID), body["userId"])
	assert.Equal(t, true, body["isAdmin"])
}

func TestRecommend(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/recommend/2?top_n=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cold_start", body["strategy"])
	items := body["recommendations"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, float64(1), items[0].(map[string]any)["movieId"])
	assert.NotContains(t, items[0].(map[string]any), "predicted_rating")

	rec, _ = env.do(t, http.MethodGet, "/recommend/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/recommend/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/recommend/2?top_n=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateMovieThenRecommend(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "out of range", body: `{"userId":2,"movieId":1,"rating":6}`, wantStatus: http.StatusBadRequest},
		{name: "missing rating", body: `{"userId":2,"movieId":1}`, wantStatus: http.StatusBadRequest},
		{name: "unknown movie", body: `{"userId":2,"movieId":42,"rating":4}`, wantStatus: http.StatusNotFound},
		{name: "unknown user", body: `{"userId":42,"movieId":1,"rating":4}`, wantStatus: http.StatusNotFound},
		{name: "ok", body: `{"userId":2,"movieId":1,"rating":4.5}`, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPost, "/rate-movie", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	rec, body := env.do(t, http.MethodGet, "/recommend/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "personalized", body["strategy"])
	for _, it := range body["recommendations"].([]any) {
		m := it.(map[string]any)
		assert.NotEqual(t, float64(1), m["movieId"])
		assert.Contains(t, m, "predicted_rating")
	}

	rec, body = env.do(t, http.MethodGet, "/user-ratings/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ratings := body["ratings"].([]any)
	require.Len(t, ratings, 1)
	assert.Equal(t, 4.5, ratings[0].(map[string]any)["rating"])
	assert.Equal(t, "Toy Story (1995)", ratings[0].(map[string]any)["title"])

	rec, _ = env.do(t, http.MethodGet, "/user-ratings/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminMovies(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/admin/add-movie", `{"userId":2,"title":"X","genres":"Drama"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/admin/add-movie", `{"userId":99,"title":"X","genres":"Drama"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/admin/add-movie", `{"userId":1,"title":"X"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/admin/add-movie", `{"userId":1,"title":"Casino (1995)","genres":"Crime|Drama"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(4), body["movieId"])

	rec, body = env.do(t, http.MethodGet, "/movies/4/similar?k=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	similar := body["similar"].([]any)
	require.Len(t, similar, 1)
	assert.Equal(t, float64(3), similar[0].(map[string]any)["movieId"])

	rec, _ = env.do(t, http.MethodDelete, "/admin/delete-movie/4?userId=2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/admin/delete-movie/4", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/admin/delete-movie/4?userId=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/admin/delete-movie/4?userId=1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/movies/4/similar", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, "fixed-id", rr.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/recommend/2", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "movierec_recommendations_total")
}
