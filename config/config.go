package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
)

// EnvPrefix 是环境变量前缀：MOVIEREC_SERVER_ADDR -> server.addr
const EnvPrefix = "MOVIEREC_"

// 存储驱动。
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config 是服务的全部配置。
// 优先级：环境变量 > 配置文件 > 默认值。
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Model     ModelConfig     `koanf:"model"`
	Recommend RecommendConfig `koanf:"recommend"`
	Catalog   CatalogConfig   `koanf:"catalog"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type LogConfig struct {
	Mode  string `koanf:"mode"`  // dev / prod
	Level string `koanf:"level"` // debug / info / warn / error
}

// StoreConfig 选择评分、目录、用户的持久化方式。
type StoreConfig struct {
	Driver        string `koanf:"driver"`
	SQLitePath    string `koanf:"sqlite_path"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
	// SeedFile 在仓库为空时导入（可选）
	SeedFile string `koanf:"seed_file"`
}

// ModelConfig 是 SVD 超参数。
type ModelConfig struct {
	Factors        int     `koanf:"factors"`
	Epochs         int     `koanf:"epochs"`
	LearningRate   float64 `koanf:"learning_rate"`
	Regularization float64 `koanf:"regularization"`
	InitStd        float64 `koanf:"init_std"`
	Seed           uint64  `koanf:"seed"`
}

type RecommendConfig struct {
	DefaultTopN   int    `koanf:"default_top_n"`
	MaxTopN       int    `koanf:"max_top_n"`
	ColdStartTags int    `koanf:"cold_start_tags"`
	PipelineFile  string `koanf:"pipeline_file"`
	// BlacklistKey 是 Store 中黑名单的 key，filter.blacklist 未指定 key 时使用
	BlacklistKey string `koanf:"blacklist_key"`
}

// CatalogConfig 控制新增电影时是否写入一条种子评分。
type CatalogConfig struct {
	SeedRating bool    `koanf:"seed_rating"`
	SeedUserID int64   `koanf:"seed_user_id"`
	SeedScore  float64 `koanf:"seed_score"`
}

// Default 返回默认配置。
func Default() *Config {
	svd := model.DefaultSVDConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Log: LogConfig{
			Mode:  "dev",
			Level: "info",
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "movierec.db",
			RedisAddr:  "127.0.0.1:6379",
			KeyPrefix:  "movierec",
		},
		Model: ModelConfig{
			Factors:        svd.Factors,
			Epochs:         svd.Epochs,
			LearningRate:   svd.LearningRate,
			Regularization: svd.Regularization,
			InitStd:        svd.InitStd,
		},
		Recommend: RecommendConfig{
			DefaultTopN:   5,
			MaxTopN:       100,
			ColdStartTags: 3,
			BlacklistKey:  "movierec:blacklist",
		},
		Catalog: CatalogConfig{
			SeedRating: false,
			SeedUserID: 0,
			SeedScore:  3.0,
		},
	}
}

// Load 按 默认值 -> YAML 文件（path 非空时）-> 环境变量 的顺序加载并校验配置。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if err := splitCommaSlice(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey 把 MOVIEREC_STORE_SQLITE_PATH 转成 store.sqlite_path：
// 第一个下划线分隔小节名，其余保留。
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

// splitCommaSlice 把环境变量传入的 "a,b" 拆成切片。
func splitCommaSlice(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// Validate 校验配置，返回所有问题。
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Log.Mode {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("log.mode must be dev or prod, got %q", c.Log.Mode))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis driver"))
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of memory, redis, sqlite, got %q", c.Store.Driver))
	}
	if c.Model.Factors <= 0 {
		errs = append(errs, errors.New("model.factors must be positive"))
	}
	if c.Model.Epochs <= 0 {
		errs = append(errs, errors.New("model.epochs must be positive"))
	}
	if c.Model.LearningRate <= 0 {
		errs = append(errs, errors.New("model.learning_rate must be positive"))
	}
	if c.Model.Regularization < 0 {
		errs = append(errs, errors.New("model.regularization must not be negative"))
	}
	if c.Recommend.DefaultTopN <= 0 {
		errs = append(errs, errors.New("recommend.default_top_n must be positive"))
	}
	if c.Recommend.MaxTopN < c.Recommend.DefaultTopN {
		errs = append(errs, errors.New("recommend.max_top_n must be >= default_top_n"))
	}
	if c.Recommend.ColdStartTags <= 0 {
		errs = append(errs, errors.New("recommend.cold_start_tags must be positive"))
	}
	if c.Catalog.SeedRating && !core.ValidScore(c.Catalog.SeedScore) {
		errs = append(errs, fmt.Errorf("catalog.seed_score %v is outside [%v, %v]", c.Catalog.SeedScore, core.MinScore, core.MaxScore))
	}
	return errors.Join(errs...)
}

// SVD 把模型配置转换成 model.SVDConfig。
func (c *Config) SVD() model.SVDConfig {
	cfg := model.DefaultSVDConfig()
	cfg.Factors = c.Model.Factors
	cfg.Epochs = c.Model.Epochs
	cfg.LearningRate = c.Model.LearningRate
	cfg.Regularization = c.Model.Regularization
	cfg.InitStd = c.Model.InitStd
	cfg.Seed = c.Model.Seed
	return cfg
}
