// Package server 是推荐服务的 HTTP 接口层（chi 路由）。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/movierec/account"
	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/engine"
	"github.com/rushteam/movierec/pkg/logger"
)

// Server 持有 HTTP 处理所需的依赖。
type Server struct {
	engine   *engine.Engine
	accounts *account.Service
	cfg      config.ServerConfig
	maxTopN  int
	log      *logger.Logger
}

// New 创建 Server；maxTopN <= 0 表示不限制 top_n。
func New(eng *engine.Engine, accounts *account.Service, cfg config.ServerConfig, maxTopN int, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		engine:   eng,
		accounts: accounts,
		cfg:      cfg,
		maxTopN:  maxTopN,
		log:      log.With("component", "server"),
	}
}

// Handler 返回配置好中间件和路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/register", s.register)
	r.Post("/login", s.login)

	r.Get("/recommend/{userId}", s.recommend)
	r.Post("/rate-movie", s.rateMovie)
	r.Get("/user-ratings/{userId}", s.userRatings)
	r.Get("/movies/{movieId}/similar", s.similarMovies)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/add-movie", s.addMovie)
		r.Delete("/delete-movie/{movieId}", s.deleteMovie)
	})

	return r
}

// Run 启动 HTTP 服务，ctx 结束后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
