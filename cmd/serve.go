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

	"github.com/sells-group/training-stats/internal/api"
	"github.com/sells-group/training-stats/internal/monitoring"
	"github.com/sells-group/training-stats/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the statistics API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, cfg, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		loaded, err := env.Service.Reload(ctx)
		if err != nil {
			zap.L().Warn("could not load latest ingest, starting empty", zap.Error(err))
		} else if !loaded {
			zap.L().Info("no stored ingest yet, waiting for POST /api/ingest")
		}

		checker := monitoring.NewChecker(env.Service, monitoring.NewAlerter(cfg.Monitoring, env.Metrics), cfg.Monitoring)
		go checker.Run(ctx)

		if cfg.Cache.Backend == "store" {
			go sweepExpiredStats(ctx, env.Store, cfg.Cache.TTL())
		}

		handler := api.NewRouter(api.Options{
			Service:       env.Service,
			Canonicalizer: env.Canonicalizer,
			Server:        cfg.Server,
			Metrics:       env.Metrics,
			Registry:      env.Registry,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
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

// sweepExpiredStats periodically removes expired stats cache rows from st.
func sweepExpiredStats(ctx context.Context, st store.Store, every time.Duration) {
	if st == nil {
		return
	}
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteExpiredStats(ctx)
			if err != nil {
				zap.L().Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Debug("cache sweep", zap.Int("removed", n))
			}
		}
	}
}
