// Package content 实现基于标签的内容相似度索引。
//
// 每部电影表示为词袋向量（词表 = 全目录去重后的标签，值 = 标签出现次数），
// 并预先计算全量电影×电影的余弦相似度矩阵。索引构建后只读，目录变化时整体重建。
package content

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
)

// Index 是只读的内容相似度索引。零值等价于空目录的索引。
type Index struct {
	movies   []core.Movie
	position map[int64]int

	vocab    []string // 按目录顺序首次出现排列
	vocabPos map[string]int
	counts   []int // 每个标签在全目录中的出现次数

	vectors [][]float64
	norms   []float64
	sim     [][]float64
}

// Neighbor 是相似电影及其相似度。
type Neighbor struct {
	Movie core.Movie
	Score float64
}

// Build 为整个目录构建索引。目录为空时返回空索引，不报错。
// 相似度矩阵按行并发计算，ctx 取消时返回 ctx.Err()。
func Build(ctx context.Context, movies []core.Movie) (*Index, error) {
	idx := &Index{
		movies:   make([]core.Movie, len(movies)),
		position: make(map[int64]int, len(movies)),
		vocabPos: make(map[string]int),
	}
	copy(idx.movies, movies)
	if len(movies) == 0 {
		return idx, nil
	}

	// 1. 词表与全局计数
	for i, m := range idx.movies {
		idx.position[m.ID] = i
		for _, tag := range m.Tags {
			p, ok := idx.vocabPos[tag]
			if !ok {
				p = len(idx.vocab)
				idx.vocabPos[tag] = p
				idx.vocab = append(idx.vocab, tag)
				idx.counts = append(idx.counts, 0)
			}
			idx.counts[p]++
		}
	}

	// 2. 计数向量与范数
	idx.vectors = make([][]float64, len(idx.movies))
	idx.norms = make([]float64, len(idx.movies))
	for i, m := range idx.movies {
		vec := make([]float64, len(idx.vocab))
		for _, tag := range m.Tags {
			vec[idx.vocabPos[tag]]++
		}
		var sq float64
		for _, v := range vec {
			sq += v * v
		}
		idx.vectors[i] = vec
		idx.norms[i] = math.Sqrt(sq)
	}

	// 3. 相似度矩阵
	idx.sim = make([][]float64, len(idx.movies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range idx.movies {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			idx.sim[i] = idx.row(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return idx, nil
}

// row 计算第 i 行。零向量与任何电影（包括自己）的相似度都为 0；
// 非零向量的对角线固定为 1。
func (idx *Index) row(i int) []float64 {
	out := make([]float64, len(idx.movies))
	if idx.norms[i] == 0 {
		return out
	}
	for j := range idx.movies {
		if j == i {
			out[j] = 1
			continue
		}
		if idx.norms[j] == 0 {
			continue
		}
		out[j] = clamp01(dotProduct(idx.vectors[i], idx.vectors[j]) / (idx.norms[i] * idx.norms[j]))
	}
	return out
}

// Len 返回索引中的电影数量。
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.movies)
}

// Movies 返回目录顺序的电影列表（副本）。
func (idx *Index) Movies() []core.Movie {
	if idx == nil {
		return nil
	}
	out := make([]core.Movie, len(idx.movies))
	copy(out, idx.movies)
	return out
}

// Movie 按 ID 查找电影。
func (idx *Index) Movie(id int64) (core.Movie, bool) {
	if idx == nil {
		return core.Movie{}, false
	}
	i, ok := idx.position[id]
	if !ok {
		return core.Movie{}, false
	}
	return idx.movies[i], true
}

// Vocabulary 返回按首次出现顺序排列的标签词表。
func (idx *Index) Vocabulary() []string {
	if idx == nil {
		return nil
	}
	return append([]string(nil), idx.vocab...)
}

// TagCount 返回标签在全目录中的出现次数。
func (idx *Index) TagCount(tag string) int {
	if idx == nil {
		return 0
	}
	p, ok := idx.vocabPos[tag]
	if !ok {
		return 0
	}
	return idx.counts[p]
}

// MostPopularTags 返回出现次数最多的 n 个标签；次数相同按目录中首次出现顺序。
func (idx *Index) MostPopularTags(n int) []string {
	if idx == nil || n <= 0 || len(idx.vocab) == 0 {
		return []string{}
	}
	order := make([]int, len(idx.vocab))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return idx.counts[order[a]] > idx.counts[order[b]]
	})
	if n > len(order) {
		n = len(order)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = idx.vocab[order[i]]
	}
	return out
}

// ItemsWithTag 返回携带该标签（精确匹配、区分大小写）的全部电影，按目录顺序。
func (idx *Index) ItemsWithTag(tag string) []core.Movie {
	out := make([]core.Movie, 0)
	if idx == nil {
		return out
	}
	if _, ok := idx.vocabPos[tag]; !ok {
		return out
	}
	for _, m := range idx.movies {
		if m.HasTag(tag) {
			out = append(out, m)
		}
	}
	return out
}

// Similarity 返回两部电影的余弦相似度；任一电影不存在时 ok=false。
func (idx *Index) Similarity(a, b int64) (float64, bool) {
	if idx == nil {
		return 0, false
	}
	i, ok := idx.position[a]
	if !ok {
		return 0, false
	}
	j, ok := idx.position[b]
	if !ok {
		return 0, false
	}
	return idx.sim[i][j], true
}

// MostSimilar 返回与 id 最相似的 k 部电影（不含自身、不含相似度为 0 的），
// 按相似度降序，相同时按 ID 升序。
func (idx *Index) MostSimilar(id int64, k int) []Neighbor {
	out := make([]Neighbor, 0)
	if idx == nil || k <= 0 {
		return out
	}
	i, ok := idx.position[id]
	if !ok {
		return out
	}
	for j, score := range idx.sim[i] {
		if j == i || score <= 0 {
			continue
		}
		out = append(out, Neighbor{Movie: idx.movies[j], Score: score})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].Movie.ID < out[b].Movie.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// dotProduct 计算两个向量的点积
func dotProduct(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
