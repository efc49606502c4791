// Package dataset 负责目录、评分、账号的持久化。
//
// 三种实现共享同一套约定：
//   - Movies 按电影 ID 升序返回（即目录顺序）
//   - Ratings 按 (UserID, MovieID) 升序返回，同一对至多一条
//   - 新增电影/用户的 ID 为当前最大 ID + 1（空表从 1 开始）
//   - 删除电影时级联删除其全部评分
//
// 实现：
//   - KVRepository：基于 core.KeyValueStore；store.MemoryStore 时为进程内仓库，
//     store.RedisStore 时数据落在 Redis
//   - SQLiteRepository：基于 mattn/go-sqlite3
package dataset

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/movierec/core"
)

// Repository 是数据访问接口，引擎与账号服务通过它读写数据。
type Repository interface {
	// Movies 返回全部电影（ID 升序）
	Movies(ctx context.Context) ([]core.Movie, error)
	// Movie 按 ID 读取电影，不存在时返回 UNKNOWN_ITEM
	Movie(ctx context.Context, id int64) (core.Movie, error)
	// AddMovie 以 最大 ID + 1 新增电影
	AddMovie(ctx context.Context, title, genres string) (core.Movie, error)
	// PutMovie 以指定 ID 写入电影（导入用），已存在则覆盖
	PutMovie(ctx context.Context, m core.Movie) error
	// DeleteMovie 删除电影并级联删除评分，返回删除的评分数
	DeleteMovie(ctx context.Context, id int64) (int, error)

	// Ratings 返回全部评分（(UserID, MovieID) 升序）
	Ratings(ctx context.Context) ([]core.Rating, error)
	// UpsertRating 写入评分，同一 (UserID, MovieID) 覆盖旧分数
	UpsertRating(ctx context.Context, r core.Rating) error

	// Users 返回全部用户（ID 升序）
	Users(ctx context.Context) ([]core.User, error)
	// User 按 ID 读取用户，不存在时返回 UNKNOWN_USER
	User(ctx context.Context, id int64) (core.User, error)
	// UserByName 按用户名读取用户，不存在时返回 UNKNOWN_USER
	UserByName(ctx context.Context, username string) (core.User, error)
	// AddUser 新增用户；u.ID <= 0 时分配 最大 ID + 1。用户名或 ID 重复返回 CONFLICT
	AddUser(ctx context.Context, u core.User) (core.User, error)

	Close() error
}

func errUsernameTaken(username string) error {
	return core.NewDomainError(core.ModuleDataset, core.ErrorCodeConflict,
		fmt.Sprintf("username %q already exists", username))
}

func errUserIDTaken(id int64) error {
	return core.NewDomainError(core.ModuleDataset, core.ErrorCodeConflict,
		fmt.Sprintf("user id %d already exists", id))
}

func errUnknownUsername(username string) error {
	return core.NewDomainError(core.ModuleDataset, core.ErrorCodeUnknownUser,
		fmt.Sprintf("user %q not found", username))
}

func sortMovies(movies []core.Movie) {
	sort.Slice(movies, func(i, j int) bool { return movies[i].ID < movies[j].ID })
}

func sortRatings(ratings []core.Rating) {
	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].UserID != ratings[j].UserID {
			return ratings[i].UserID < ratings[j].UserID
		}
		return ratings[i].MovieID < ratings[j].MovieID
	})
}

func sortUsers(users []core.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
