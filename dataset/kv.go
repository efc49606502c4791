package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/store"
)

// KVRepository 把目录、评分、用户存放在 core.KeyValueStore 的 Hash 中：
//
//	{prefix}:movies   field=movieID        value=JSON(core.Movie)
//	{prefix}:ratings  field=userID:movieID value=JSON(core.Rating)
//	{prefix}:users    field=userID         value=JSON(core.User)
//
// ID 分配与唯一性检查在进程内加锁；多进程共享同一 Redis 写入时不保证唯一。
type KVRepository struct {
	kv     core.KeyValueStore
	prefix string
	mu     sync.Mutex
}

// NewKVRepository 创建 KV 仓库，prefix 为空时使用 "movierec"。
func NewKVRepository(kv core.KeyValueStore, prefix string) *KVRepository {
	if prefix == "" {
		prefix = "movierec"
	}
	return &KVRepository{kv: kv, prefix: prefix}
}

// NewMemoryRepository 返回基于 store.MemoryStore 的进程内仓库，重启后数据丢失。
func NewMemoryRepository() *KVRepository {
	return NewKVRepository(store.NewMemoryStore(), "")
}

// Store 返回底层存储，可与黑名单等运营数据共用。
func (r *KVRepository) Store() core.KeyValueStore { return r.kv }

func (r *KVRepository) key(name string) string { return r.prefix + ":" + name }

func ratingField(userID, movieID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(movieID, 10)
}

func idField(id int64) string { return strconv.FormatInt(id, 10) }

// hgetAll 读取整个 Hash，key 不存在视为空。
func (r *KVRepository) hgetAll(ctx context.Context, name string) (map[string][]byte, error) {
	data, err := r.kv.HGetAll(ctx, r.key(name))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("hgetall %s: %w", r.key(name), err)
	}
	return data, nil
}

func (r *KVRepository) hset(ctx context.Context, name, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", name, field, err)
	}
	if err := r.kv.HSet(ctx, r.key(name), field, data); err != nil {
		return fmt.Errorf("hset %s/%s: %w", r.key(name), field, err)
	}
	return nil
}

func (r *KVRepository) Movies(ctx context.Context) ([]core.Movie, error) {
	data, err := r.hgetAll(ctx, "movies")
	if err != nil {
		return nil, err
	}
	out := make([]core.Movie, 0, len(data))
	for field, raw := range data {
		var m core.Movie
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode movie %s: %w", field, err)
		}
		out = append(out, core.NewMovie(m.ID, m.Title, m.Genres))
	}
	sortMovies(out)
	return out, nil
}

func (r *KVRepository) Movie(ctx context.Context, id int64) (core.Movie, error) {
	raw, err := r.kv.HGet(ctx, r.key("movies"), idField(id))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return core.Movie{}, core.NewUnknownItemError(core.ModuleDataset, id)
		}
		return core.Movie{}, fmt.Errorf("get movie %d: %w", id, err)
	}
	var m core.Movie
	if err := json.Unmarshal(raw, &m); err != nil {
		return core.Movie{}, fmt.Errorf("decode movie %d: %w", id, err)
	}
	return core.NewMovie(m.ID, m.Title, m.Genres), nil
}

func (r *KVRepository) AddMovie(ctx context.Context, title, genres string) (core.Movie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.hgetAll(ctx, "movies")
	if err != nil {
		return core.Movie{}, err
	}
	next, err := nextID(data)
	if err != nil {
		return core.Movie{}, err
	}
	m := core.NewMovie(next, title, genres)
	if err := r.hset(ctx, "movies", idField(m.ID), m); err != nil {
		return core.Movie{}, err
	}
	return m, nil
}

func (r *KVRepository) PutMovie(ctx context.Context, m core.Movie) error {
	return r.hset(ctx, "movies", idField(m.ID), core.NewMovie(m.ID, m.Title, m.Genres))
}

// DeleteMovie 先删除电影，再删除它的评分。
// 评分删除失败时电影已不存在，重试会返回 UNKNOWN_ITEM 并顺带清理残留评分。
func (r *KVRepository) DeleteMovie(ctx context.Context, id int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists := true
	if _, err := r.kv.HGet(ctx, r.key("movies"), idField(id)); err != nil {
		if !core.IsStoreNotFound(err) {
			return 0, fmt.Errorf("get movie %d: %w", id, err)
		}
		exists = false
	}
	if exists {
		if err := r.kv.HDel(ctx, r.key("movies"), idField(id)); err != nil {
			return 0, fmt.Errorf("delete movie %d: %w", id, err)
		}
	}

	removed, err := r.deleteRatingsOf(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, core.NewUnknownItemError(core.ModuleDataset, id)
	}
	return removed, nil
}

func (r *KVRepository) deleteRatingsOf(ctx context.Context, movieID int64) (int, error) {
	ratings, err := r.hgetAll(ctx, "ratings")
	if err != nil {
		return 0, err
	}
	suffix := ":" + idField(movieID)
	fields := make([]string, 0)
	for field := range ratings {
		if strings.HasSuffix(field, suffix) {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	if err := r.kv.HDel(ctx, r.key("ratings"), fields...); err != nil {
		return 0, fmt.Errorf("delete ratings of movie %d: %w", movieID, err)
	}
	return len(fields), nil
}

func (r *KVRepository) Ratings(ctx context.Context) ([]core.Rating, error) {
	data, err := r.hgetAll(ctx, "ratings")
	if err != nil {
		return nil, err
	}
	out := make([]core.Rating, 0, len(data))
	for field, raw := range data {
		var rt core.Rating
		if err := json.Unmarshal(raw, &rt); err != nil {
			return nil, fmt.Errorf("decode rating %s: %w", field, err)
		}
		out = append(out, rt)
	}
	sortRatings(out)
	return out, nil
}

func (r *KVRepository) UpsertRating(ctx context.Context, rt core.Rating) error {
	return r.hset(ctx, "ratings", ratingField(rt.UserID, rt.MovieID), rt)
}

// storedUser 带上密码哈希；core.User 的 JSON 编码会隐藏它。
type storedUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	IsAdmin      bool   `json:"is_admin"`
}

func (r *KVRepository) Users(ctx context.Context) ([]core.User, error) {
	data, err := r.hgetAll(ctx, "users")
	if err != nil {
		return nil, err
	}
	out := make([]core.User, 0, len(data))
	for field, raw := range data {
		var su storedUser
		if err := json.Unmarshal(raw, &su); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", field, err)
		}
		out = append(out, core.User(su))
	}
	sortUsers(out)
	return out, nil
}

func (r *KVRepository) User(ctx context.Context, id int64) (core.User, error) {
	raw, err := r.kv.HGet(ctx, r.key("users"), idField(id))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return core.User{}, core.NewUnknownUserError(core.ModuleDataset, id)
		}
		return core.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	var su storedUser
	if err := json.Unmarshal(raw, &su); err != nil {
		return core.User{}, fmt.Errorf("decode user %d: %w", id, err)
	}
	return core.User(su), nil
}

func (r *KVRepository) UserByName(ctx context.Context, username string) (core.User, error) {
	users, err := r.Users(ctx)
	if err != nil {
		return core.User{}, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return core.User{}, errUnknownUsername(username)
}

func (r *KVRepository) AddUser(ctx context.Context, u core.User) (core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.hgetAll(ctx, "users")
	if err != nil {
		return core.User{}, err
	}
	for _, raw := range data {
		var su storedUser
		if err := json.Unmarshal(raw, &su); err != nil {
			return core.User{}, fmt.Errorf("decode user: %w", err)
		}
		if su.Username == u.Username {
			return core.User{}, errUsernameTaken(u.Username)
		}
	}
	if u.ID <= 0 {
		if u.ID, err = nextID(data); err != nil {
			return core.User{}, err
		}
	} else if _, ok := data[idField(u.ID)]; ok {
		return core.User{}, errUserIDTaken(u.ID)
	}
	if err := r.hset(ctx, "users", idField(u.ID), storedUser(u)); err != nil {
		return core.User{}, err
	}
	return u, nil
}

// Close 关闭底层存储。
func (r *KVRepository) Close() error { return r.kv.Close() }

// nextID 返回 Hash 中最大数字 field + 1。
func nextID(data map[string][]byte) (int64, error) {
	var next int64 = 1
	for field := range data {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id field %q: %w", field, err)
		}
		if id >= next {
			next = id + 1
		}
	}
	return next, nil
}

var _ Repository = (*KVRepository)(nil)
