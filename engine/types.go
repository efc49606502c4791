package engine

import "github.com/rushteam/movierec/core"

// Strategy 是一次推荐实际走的路径。
type Strategy string

const (
	StrategyColdStart    Strategy = "cold_start"
	StrategyPersonalized Strategy = "personalized"
)

// UserState 按评分数区分用户：没有评分为 New，否则为 Warm。
type UserState int

const (
	UserNew UserState = iota
	UserWarm
)

func (s UserState) String() string {
	if s == UserWarm {
		return "warm"
	}
	return "new"
}

// Recommendation 是返回给调用方的一条推荐。
// PredictedScore 只在个性化路径上给出。
type Recommendation struct {
	MovieID        int64    `json:"movieId"`
	Title          string   `json:"title"`
	Genres         string   `json:"genres"`
	Tags           []string `json:"tags"`
	PredictedScore *float64 `json:"predicted_rating,omitempty"`
}

// Result 是一次推荐的完整结果。
type Result struct {
	UserID   int64            `json:"userId"`
	Strategy Strategy         `json:"strategy"`
	Items    []Recommendation `json:"recommendations"`
}

// RatedMovie 是用户评过分的电影。
type RatedMovie struct {
	MovieID int64   `json:"movieId"`
	Title   string  `json:"title"`
	Genres  string  `json:"genres"`
	Rating  float64 `json:"rating"`
}

// SimilarMovie 是内容相似度邻居。
type SimilarMovie struct {
	MovieID    int64   `json:"movieId"`
	Title      string  `json:"title"`
	Genres     string  `json:"genres"`
	Similarity float64 `json:"similarity"`
}

// Stats 是当前快照的概况，用于健康检查。
type Stats struct {
	Movies       int  `json:"movies"`
	Ratings      int  `json:"ratings"`
	RatingUsers  int  `json:"ratingUsers"`
	ModelTrained bool `json:"modelTrained"`
	Stale        bool `json:"stale"`
}

func toRecommendations(items []*core.Item) []Recommendation {
	out := make([]Recommendation, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		rec := Recommendation{MovieID: it.ID}
		if it.Movie != nil {
			rec.Title = it.Movie.Title
			rec.Genres = it.Movie.Genres
			rec.Tags = it.Movie.Tags
		}
		if it.Predicted {
			score := it.Score
			rec.PredictedScore = &score
		}
		out = append(out, rec)
	}
	return out
}
