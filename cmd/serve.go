package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/api"
	"github.com/pharmalink/provider-sync/internal/scheduler"
)

var servePort int

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the provider HTTP API",
	Long:  "Serves per-branch listings, document detail, login probes and fleet syncs over HTTP. With schedule.enabled set it also runs incremental syncs on a cron schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := api.Options{
			Engine:      env.Engine,
			Records:     env.Store,
			Breakers:    env.Wiring.Breakers,
			CORSOrigins: cfg.Server.CORSOrigins,
		}
		if env.Runs != nil {
			opts.Runs = env.Runs
		}

		if cfg.Schedule.Enabled {
			providers := cfg.Schedule.Providers
			if len(providers) == 0 {
				providers = listingProviders(env.Wiring.Registry)
			}
			sched, err := scheduler.New(env.Engine, cfg.Schedule.Cron, providers)
			if err != nil {
				return err
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
			opts.Scheduler = sched
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(opts).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Strings("providers", env.Wiring.Registry.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
