// Package account 提供注册与登录。
// 登录只校验凭据并返回用户信息，不签发会话或令牌。
package account

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/dataset"
	"github.com/rushteam/movierec/pkg/logger"
)

var (
	// ErrInvalidCredentials 表示用户名或密码错误（不区分是哪一个）
	ErrInvalidCredentials = core.NewDomainError(core.ModuleAccount, core.ErrorCodeUnauthorized, "invalid username or password")

	// ErrMissingFields 表示用户名或密码为空
	ErrMissingFields = core.NewDomainError(core.ModuleAccount, core.ErrorCodeInvalidInput, "username and password are required")
)

// Identity 是登录成功后返回的信息。
type Identity struct {
	UserID  int64 `json:"userId"`
	IsAdmin bool  `json:"isAdmin"`
}

// Service 是账号服务。
type Service struct {
	repo dataset.Repository
	log  *logger.Logger
	cost int
}

// NewService 创建账号服务；log 为 nil 时不输出日志。
func NewService(repo dataset.Repository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, log: log, cost: bcrypt.DefaultCost}
}

// WithCost 设置 bcrypt 代价（测试中用 bcrypt.MinCost 加速）。
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// HashPassword 返回密码的 bcrypt 哈希，可作为 dataset.PasswordHasher 使用。
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Register 创建新用户，返回分配的用户 ID（当前最大 ID + 1）。
// 用户名重复返回 CONFLICT。
func (s *Service) Register(ctx context.Context, username, password string, isAdmin bool) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, ErrMissingFields
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return 0, err
	}
	u, err := s.repo.AddUser(ctx, core.User{Username: username, PasswordHash: hash, IsAdmin: isAdmin})
	if err != nil {
		return 0, err
	}
	s.log.Info("user registered", "user_id", u.ID, "is_admin", u.IsAdmin)
	return u.ID, nil
}

// Login 校验用户名和密码。
func (s *Service) Login(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Identity{}, ErrMissingFields
	}
	u, err := s.repo.UserByName(ctx, username)
	if err != nil {
		if core.IsUnknownID(err) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	return Identity{UserID: u.ID, IsAdmin: u.IsAdmin}, nil
}

// IsAdmin 判断用户是否为管理员；用户不存在返回 UNKNOWN_USER。
func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	u, err := s.repo.User(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.IsAdmin, nil
}
