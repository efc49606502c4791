package dataset

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/movierec/core"
)

// Seed 是初始数据文件（YAML）：
//
//	users:
//	  - {id: 1, username: alice, password: secret}
//	movies:
//	  - {id: 1, title: "Toy Story (1995)", genres: "Adventure|Animation|Children"}
//	ratings:
//	  - {user_id: 1, movie_id: 1, rating: 4.0}
type Seed struct {
	Users   []SeedUser    `yaml:"users"`
	Movies  []core.Movie  `yaml:"movies"`
	Ratings []core.Rating `yaml:"ratings"`
}

// SeedUser 允许写明文密码（导入时哈希）或已有的哈希。
type SeedUser struct {
	ID           int64  `yaml:"id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	IsAdmin      bool   `yaml:"is_admin"`
}

// ImportStats 记录一次导入写入的数量。
type ImportStats struct {
	Users   int
	Movies  int
	Ratings int
}

// PasswordHasher 把明文密码转换为存储用的哈希。
type PasswordHasher func(password string) (string, error)

// LoadSeed 读取并解析 YAML 数据文件。
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// Validate 检查数据文件自身的一致性：ID 唯一、评分在区间内、评分引用的电影存在。
// 评分引用的用户不要求出现在 users 中（例如系统用户 0）。
func (s *Seed) Validate() error {
	movies := make(map[int64]struct{}, len(s.Movies))
	for _, m := range s.Movies {
		if m.ID <= 0 {
			return fmt.Errorf("movie %q: id must be positive", m.Title)
		}
		if _, dup := movies[m.ID]; dup {
			return fmt.Errorf("duplicate movie id %d", m.ID)
		}
		if m.Title == "" {
			return fmt.Errorf("movie %d: title is required", m.ID)
		}
		movies[m.ID] = struct{}{}
	}

	names := make(map[string]struct{}, len(s.Users))
	for _, u := range s.Users {
		if u.Username == "" {
			return fmt.Errorf("user %d: username is required", u.ID)
		}
		if _, dup := names[u.Username]; dup {
			return fmt.Errorf("duplicate username %q", u.Username)
		}
		names[u.Username] = struct{}{}
	}

	for _, r := range s.Ratings {
		if !core.ValidScore(r.Score) {
			return fmt.Errorf("rating (%d, %d): %w", r.UserID, r.MovieID, core.NewInvalidScoreError(r.Score))
		}
		if _, ok := movies[r.MovieID]; !ok {
			return fmt.Errorf("rating (%d, %d): %w", r.UserID, r.MovieID, core.NewUnknownItemError(core.ModuleDataset, r.MovieID))
		}
	}
	return nil
}

// Import 校验并写入数据文件：先电影，再用户，最后评分。
// 重复的 (UserID, MovieID) 评分按后写覆盖。
func Import(ctx context.Context, repo Repository, seed *Seed, hash PasswordHasher) (ImportStats, error) {
	var stats ImportStats
	if err := seed.Validate(); err != nil {
		return stats, fmt.Errorf("invalid seed: %w", err)
	}

	for _, m := range seed.Movies {
		if err := repo.PutMovie(ctx, m); err != nil {
			return stats, err
		}
		stats.Movies++
	}

	for _, su := range seed.Users {
		u := core.User{ID: su.ID, Username: su.Username, PasswordHash: su.PasswordHash, IsAdmin: su.IsAdmin}
		if u.PasswordHash == "" && su.Password != "" {
			if hash == nil {
				return stats, fmt.Errorf("user %q: plaintext password needs a hasher", su.Username)
			}
			h, err := hash(su.Password)
			if err != nil {
				return stats, fmt.Errorf("hash password of %q: %w", su.Username, err)
			}
			u.PasswordHash = h
		}
		if _, err := repo.AddUser(ctx, u); err != nil {
			return stats, err
		}
		stats.Users++
	}

	for _, r := range seed.Ratings {
		if err := repo.UpsertRating(ctx, r); err != nil {
			return stats, err
		}
		stats.Ratings++
	}
	return stats, nil
}

// IsEmpty 判断仓库里是否还没有任何电影和用户，用于决定是否导入初始数据。
func IsEmpty(ctx context.Context, repo Repository) (bool, error) {
	movies, err := repo.Movies(ctx)
	if err != nil {
		return false, err
	}
	users, err := repo.Users(ctx)
	if err != nil {
		return false, err
	}
	return len(movies) == 0 && len(users) == 0, nil
}
