package main

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/account"
	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/dataset"
	"github.com/rushteam/movierec/engine"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/logger"
)

// app 是各子命令共用的运行时依赖。
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	repo     dataset.Repository
	store    core.Store
	accounts *account.Service
	engine   *engine.Engine
}

// openApp 加载配置并打开存储，不初始化引擎。
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	repo, st, err := dataset.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		store:    st,
		accounts: account.NewService(repo, log),
	}, nil
}

// bootstrap 在 openApp 的基础上导入种子数据（仓库为空时）并初始化推荐引擎。
func bootstrap(ctx context.Context) (*app, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.Store.SeedFile != "" {
		if err := a.seedIfEmpty(ctx, a.cfg.Store.SeedFile); err != nil {
			a.close()
			return nil, err
		}
	}
	if err := a.startEngine(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) startEngine(ctx context.Context) error {
	opts := engine.OptionsFromConfig(a.cfg)
	opts.BlacklistStore = a.store
	opts.Logger = a.log
	if path := a.cfg.Recommend.PipelineFile; path != "" {
		pc, err := pipeline.LoadFromYAML(path)
		if err != nil {
			return fmt.Errorf("load pipeline %s: %w", path, err)
		}
		opts.Pipelines = pc
	}

	a.engine = engine.New(a.repo, opts)
	if err := a.engine.Init(ctx); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	return nil
}

func (a *app) seedIfEmpty(ctx context.Context, path string) error {
	empty, err := dataset.IsEmpty(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("check repository: %w", err)
	}
	if !empty {
		a.log.Info("repository not empty, skip seed", "file", path)
		return nil
	}
	return a.importSeed(ctx, path)
}

func (a *app) importSeed(ctx context.Context, path string) error {
	seed, err := dataset.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("load seed: %w", err)
	}
	stats, err := dataset.Import(ctx, a.repo, seed, a.accounts.HashPassword)
	if err != nil {
		return fmt.Errorf("import seed: %w", err)
	}
	a.log.Info("seed imported", "file", path, "users", stats.Users, "movies", stats.Movies, "ratings", stats.Ratings)
	return nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Sync()
}
