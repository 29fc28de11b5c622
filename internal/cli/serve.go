package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shopassist/server/internal/server"
	logx "github.com/shopassist/server/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  `Serves threads, turns and escalation approvals as a JSON API, with Prometheus metrics on /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTPAddr = addr
			}

			handler := server.NewHandler(app.Runner, promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(cmd.Context(), srv)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides HTTP_ADDR)")
	cmd.Flags().String("store", "", "Conversation store backend: memory or redis (overrides STORE_BACKEND)")
	return cmd
}

// serve runs srv until it fails or the process receives SIGINT/SIGTERM.
func serve(ctx context.Context, srv *http.Server) error {
	serverErrors := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		serverErrors <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logx.Info().Msg("Shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Graceful shutdown did not complete")
		return srv.Close()
	}
	logx.Info().Msg("HTTP server stopped")
	return nil
}
