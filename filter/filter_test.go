package filter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/utils"
	"github.com/rushteam/movierec/store"
)

func movieItem(id int64, title, genres string, score float64) *core.Item {
	m := core.NewMovie(id, title, genres)
	it := core.NewMovieItem(&m)
	it.Score = score
	return it
}

func itemIDs(items []*core.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestRatedFilter(t *testing.T) {
	rctx := core.NewRecommendContext(1, 10)
	rctx.Rated[2] = 4

	node := &FilterNode{Filters: []Filter{&RatedFilter{}}}
	items := []*core.Item{movieItem(1, "A", "Action", 0), movieItem(2, "B", "Action", 0), nil}

	got, err := node.Process(context.Background(), rctx, items)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, itemIDs(got))
	assert.Equal(t, "filter.rated", items[1].Labels[utils.LabelFiltered].Source)
}

func TestExprFilter(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		invert bool
		want   []int64
	}{
		{name: "score threshold", expr: "item.score >= 3.0", want: []int64{1, 3}},
		{name: "tag membership", expr: `"Comedy" in item.tags`, want: []int64{1}},
		{name: "inverted", expr: `"Comedy" in item.tags`, invert: true, want: []int64{2, 3}},
		{name: "request context", expr: "rctx.user_id == 7", want: []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewExprFilter(tt.expr, tt.invert)
			require.NoError(t, err)

			items := []*core.Item{
				movieItem(1, "A", "Action|Comedy", 4.5),
				movieItem(2, "B", "Action", 2.0),
				movieItem(3, "C", "Drama", 3.0),
			}
			got, err := (&FilterNode{Filters: []Filter{f}}).Process(context.Background(), core.NewRecommendContext(7, 10), items)
			require.NoError(t, err)
			assert.Equal(t, tt.want, itemIDs(got))
		})
	}
}

func TestExprFilter_InvalidExpression(t *testing.T) {
	_, err := NewExprFilter("item.score >", false)
	assert.Error(t, err)
}

func TestFilterNode_ErrorKeepsItem(t *testing.T) {
	f, err := NewExprFilter("label.missing == 1", false)
	require.NoError(t, err)

	var reported []string
	node := &FilterNode{
		Filters: []Filter{f},
		OnError: func(name string, _ *core.Item, err error) {
			reported = append(reported, name)
		},
	}
	got, err := node.Process(context.Background(), core.NewRecommendContext(1, 10), []*core.Item{movieItem(1, "A", "Action", 1)})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, itemIDs(got))
	assert.Equal(t, []string{"filter.expr"}, reported)
}

func TestBlacklistFilter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()

	data, err := json.Marshal([]int64{3})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "blacklist", data))

	tests := []struct {
		name string
		f    *BlacklistFilter
		want []int64
	}{
		{name: "static ids", f: NewBlacklistFilter([]int64{1}, nil, ""), want: []int64{2, 3}},
		{name: "store ids", f: NewBlacklistFilter(nil, s, "blacklist"), want: []int64{1, 2}},
		{name: "both", f: NewBlacklistFilter([]int64{1}, s, "blacklist"), want: []int64{2}},
		{name: "missing key", f: NewBlacklistFilter(nil, s, "nope"), want: []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []*core.Item{movieItem(1, "A", "Action", 0), movieItem(2, "B", "Action", 0), movieItem(3, "C", "Drama", 0)}
			got, err := (&FilterNode{Filters: []Filter{tt.f}}).Process(ctx, core.NewRecommendContext(1, 10), items)
			require.NoError(t, err)
			assert.Equal(t, tt.want, itemIDs(got))
		})
	}
}

type brokenStore struct{ core.Store }

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }

func TestBlacklistFilter_StoreError(t *testing.T) {
	f := NewBlacklistFilter(nil, brokenStore{}, "blacklist")
	filtered, err := f.ShouldFilter(context.Background(), nil, movieItem(1, "A", "Action", 0))
	assert.Error(t, err)
	assert.False(t, filtered)
}
