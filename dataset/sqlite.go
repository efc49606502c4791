package dataset

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rushteam/movierec/core"
)

//go:embed schema.sql
var schema string

// SQLiteRepository 是基于 SQLite 的 Repository 实现。
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository 打开（必要时创建）数据库并初始化表结构。
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Movies(ctx context.Context) ([]core.Movie, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, title, genres FROM movies ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()

	out := make([]core.Movie, 0)
	for rows.Next() {
		var (
			id            int64
			title, genres string
		)
		if err := rows.Scan(&id, &title, &genres); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		out = append(out, core.NewMovie(id, title, genres))
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Movie(ctx context.Context, id int64) (core.Movie, error) {
	var title, genres string
	err := r.db.QueryRowContext(ctx, "SELECT title, genres FROM movies WHERE id = ?", id).Scan(&title, &genres)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Movie{}, core.NewUnknownItemError(core.ModuleDataset, id)
	}
	if err != nil {
		return core.Movie{}, fmt.Errorf("get movie %d: %w", id, err)
	}
	return core.NewMovie(id, title, genres), nil
}

func (r *SQLiteRepository) AddMovie(ctx context.Context, title, genres string) (core.Movie, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Movie{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM movies").Scan(&next); err != nil {
		return core.Movie{}, fmt.Errorf("next movie id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO movies (id, title, genres) VALUES (?, ?, ?)",
		next, title, genres,
	); err != nil {
		return core.Movie{}, fmt.Errorf("insert movie: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Movie{}, fmt.Errorf("commit: %w", err)
	}
	return core.NewMovie(next, title, genres), nil
}

func (r *SQLiteRepository) PutMovie(ctx context.Context, m core.Movie) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO movies (id, title, genres) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, genres = excluded.genres`,
		m.ID, m.Title, m.Genres,
	)
	if err != nil {
		return fmt.Errorf("put movie %d: %w", m.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteMovie(ctx context.Context, id int64) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM ratings WHERE movie_id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("delete ratings of movie %d: %w", id, err)
	}
	removed, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, "DELETE FROM movies WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("delete movie %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, core.NewUnknownItemError(core.ModuleDataset, id)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(removed), nil
}

func (r *SQLiteRepository) Ratings(ctx context.Context) ([]core.Rating, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id, movie_id, rating FROM ratings ORDER BY user_id, movie_id")
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	out := make([]core.Rating, 0)
	for rows.Next() {
		var rt core.Rating
		if err := rows.Scan(&rt.UserID, &rt.MovieID, &rt.Score); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpsertRating(ctx context.Context, rt core.Rating) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ratings (user_id, movie_id, rating) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, movie_id) DO UPDATE SET rating = excluded.rating`,
		rt.UserID, rt.MovieID, rt.Score,
	)
	if err != nil {
		return fmt.Errorf("upsert rating (%d, %d): %w", rt.UserID, rt.MovieID, err)
	}
	return nil
}

func (r *SQLiteRepository) Users(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, username, password_hash, is_admin FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]core.User, 0)
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) User(ctx context.Context, id int64) (core.User, error) {
	u := core.User{ID: id}
	err := r.db.QueryRowContext(ctx,
		"SELECT username, password_hash, is_admin FROM users WHERE id = ?", id,
	).Scan(&u.Username, &u.PasswordHash, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NewUnknownUserError(core.ModuleDataset, id)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (r *SQLiteRepository) UserByName(ctx context.Context, username string) (core.User, error) {
	u := core.User{Username: username}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, password_hash, is_admin FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.PasswordHash, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, errUnknownUsername(username)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}

func (r *SQLiteRepository) AddUser(ctx context.Context, u core.User) (core.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.User{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var taken int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", u.Username,
	).Scan(&taken); err != nil {
		return core.User{}, fmt.Errorf("check username: %w", err)
	}
	if taken > 0 {
		return core.User{}, errUsernameTaken(u.Username)
	}

	if u.ID <= 0 {
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM users").Scan(&u.ID); err != nil {
			return core.User{}, fmt.Errorf("next user id: %w", err)
		}
	} else {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", u.ID).Scan(&taken); err != nil {
			return core.User{}, fmt.Errorf("check user id: %w", err)
		}
		if taken > 0 {
			return core.User{}, errUserIDTaken(u.ID)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, is_admin) VALUES (?, ?, ?, ?)",
		u.ID, u.Username, u.PasswordHash, u.IsAdmin,
	); err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.User{}, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// Close 关闭数据库连接
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
