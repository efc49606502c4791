package core

import "strings"

// TagSeparator 是原始类型/标签字符串的分隔符，例如 "Action|Comedy"。
const TagSeparator = "|"

// 评分区间（闭区间）。
const (
	MinScore = 0.5
	MaxScore = 5.0
)

// Movie 是目录中的一部电影（推荐的物品）。
// Genres 保留原始字符串用于展示；Tags 是切分后的有序标签序列。
type Movie struct {
	ID     int64    `json:"movieId" yaml:"id"`
	Title  string   `json:"title" yaml:"title"`
	Genres string   `json:"genres" yaml:"genres"`
	Tags   []string `json:"tags" yaml:"-"`
}

// NewMovie 创建电影并从原始标签串解析 Tags。
func NewMovie(id int64, title, genres string) Movie {
	return Movie{
		ID:     id,
		Title:  title,
		Genres: genres,
		Tags:   ParseTags(genres),
	}
}

// HasTag 判断电影是否携带某个标签（精确匹配，区分大小写）。
func (m Movie) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseTags 把原始标签串按 '|' 切分，去掉首尾空白和空片段。
// 空串或缺失值返回空切片（非 nil）。
func ParseTags(raw string) []string {
	tags := make([]string, 0)
	if strings.TrimSpace(raw) == "" {
		return tags
	}
	for _, part := range strings.Split(raw, TagSeparator) {
		if t := strings.TrimSpace(part); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Rating 是一次用户对电影的评分（交互）。
// 每个 (UserID, MovieID) 至多一条，重复写入覆盖分数。
type Rating struct {
	UserID  int64   `json:"userId" yaml:"user_id"`
	MovieID int64   `json:"movieId" yaml:"movie_id"`
	Score   float64 `json:"rating" yaml:"rating"`
}

// ValidScore 判断分数是否在 [MinScore, MaxScore] 内。
func ValidScore(score float64) bool {
	return score >= MinScore && score <= MaxScore
}

// User 是账号信息；推荐引擎只关心 ID。
type User struct {
	ID           int64  `json:"userId" yaml:"id"`
	Username     string `json:"username" yaml:"username"`
	PasswordHash string `json:"-" yaml:"password_hash"`
	IsAdmin      bool   `json:"isAdmin" yaml:"is_admin"`
}
