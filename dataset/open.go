package dataset

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/store"
)

// Open 按配置创建 Repository，同时返回可存放运营数据（黑名单）的 Store。
// memory / redis 驱动下两者共用同一个存储；sqlite 驱动下运营数据放在进程内存。
// 调用方负责关闭两者（共用时 Store 的重复 Close 是安全的）。
func Open(ctx context.Context, cfg config.StoreConfig) (Repository, core.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		repo := NewKVRepository(store.NewMemoryStore(), cfg.KeyPrefix)
		return repo, repo.Store(), nil
	case config.DriverSQLite:
		repo, err := NewSQLiteRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, store.NewMemoryStore(), nil
	case config.DriverRedis:
		rs, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewKVRepository(rs, cfg.KeyPrefix), rs, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
