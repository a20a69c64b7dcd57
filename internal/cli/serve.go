package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/bicopilot/api"
)

const shutdownTimeout = 30 * time.Second

type ServeCmd struct {
	info BuildInfo
}

func NewServeCmd(info BuildInfo) *ServeCmd {
	return &ServeCmd{info: info}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent and evaluation endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return fmt.Errorf("failed to get listen-addr flag: %w", err)
			}
			if listenAddr == "" {
				listenAddr = cfg.ListenAddr
			}
			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return fmt.Errorf("failed to get metrics-addr flag: %w", err)
			}
			if metricsAddr == "" {
				metricsAddr = cfg.MetricsAddr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			api.BuildInfo.WithLabelValues(c.info.Version, c.info.Commit, c.info.Date).Set(1)

			a, err := openApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := api.NewServer(a.agent,
				api.WithLogger(log),
				api.WithListenAddr(listenAddr),
				api.WithAllowedOrigins(cfg.CORSAllowedOrigins),
				api.WithEvaluations(a.suite),
			)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					log.Info("cli: metrics listening", "address", metricsAddr)
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("cli: metrics server failed", "error", err)
					}
				}()
				defer metricsServer.Close()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Run()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info("cli: server exited")
			return <-errCh
		},
	}

	cmd.Flags().String("listen-addr", "", "HTTP listen address (default from config)")
	cmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (default from config)")
	return cmd
}
