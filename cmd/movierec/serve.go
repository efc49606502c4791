package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rushteam/movierec/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}
			st := a.engine.Stats()
			a.log.Info("engine ready",
				"driver", a.cfg.Store.Driver,
				"movies", st.Movies,
				"ratings", st.Ratings,
				"model_trained", st.ModelTrained,
			)
			return server.New(a.engine, a.accounts, cfg, a.cfg.Recommend.MaxTopN, a.log).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
