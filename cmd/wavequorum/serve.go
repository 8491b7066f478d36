package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rogers-F/wavequorum/internal/ipc"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API for submitting, cancelling and inspecting runs.
Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = a.cfg.ListenAddr
			}

			handler := &ipc.Handler{
				Runner:    ipc.NewRunner(sched, a.logger.Named("runner")),
				Journal:   a.journal,
				Snapshots: a.snapshots,
			}
			srv := ipc.NewServer(handler, listen, a.logger.Named("http"))

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info(ctx, "shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn(shutdownCtx, "shutdown incomplete", zap.Error(err))
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen_addr)")
	return cmd
}
