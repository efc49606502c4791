package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/utils"
)

func items(ids ...int64) []*core.Item {
	out := make([]*core.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.NewItem(id))
	}
	return out
}

func idsOf(items []*core.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestTopNNode(t *testing.T) {
	tests := []struct {
		name string
		n    int
		topN int
		want []int64
	}{
		{name: "fixed n", n: 2, topN: 10, want: []int64{1, 2}},
		{name: "request top_n", n: 0, topN: 3, want: []int64{1, 2, 3}},
		{name: "larger than list", n: 10, want: []int64{1, 2, 3, 4}},
		{name: "unlimited", want: []int64{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&TopNNode{N: tt.n}).Process(context.Background(), core.NewRecommendContext(1, tt.topN), items(1, 2, 3, 4))
			require.NoError(t, err)
			assert.Equal(t, tt.want, idsOf(got))
		})
	}
}

func TestDiversity(t *testing.T) {
	in := items(1, 2, 3, 4, 5)
	tags := []string{"Action", "Action", "Drama", "", "Drama"}
	for i, tag := range tags {
		if tag != "" {
			in[i].PutLabel(utils.LabelRecallTag, utils.Label{Value: tag, Source: "recall"})
		}
	}

	got, err := (&Diversity{}).Process(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4, 2, 5}, idsOf(got))
}

func TestDiversity_FallsBackToMovieTag(t *testing.T) {
	a := core.NewMovie(1, "A", "Comedy|Action")
	b := core.NewMovie(2, "B", "Comedy")
	c := core.NewMovie(3, "C", "Horror")
	in := []*core.Item{core.NewMovieItem(&a), core.NewMovieItem(&b), core.NewMovieItem(&c)}

	got, err := (&Diversity{MaxPerTag: 1}).Process(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, idsOf(got))
}
