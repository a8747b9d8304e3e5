// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glia-dev/glia/internal/collector"
	"github.com/glia-dev/glia/internal/config"
	"github.com/glia-dev/glia/internal/store"
)

var serveAddr string
var serveDBPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference telemetry collector",
	Long: `Starts an HTTP collector that accepts records on POST /ingest, lists them on
GET /telemetry and answers GET /health. Records are kept in a SQLite database.

When GLIA_REDIS_URL is set, stored records are also relayed to a Redis stream.`,
	Example: `  # Listen on the default address (:8000)
  glia serve

  # Custom address and database
  glia serve --addr 127.0.0.1:9000 --db /var/lib/glia/jobs.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Collector.Addr = serveAddr
		}
		if serveDBPath != "" {
			cfg.Collector.DBPath = serveDBPath
		}
		return runCollector(ctx, cfg.Collector, logger)
	},
}

// runCollector serves until ctx is cancelled or the listener fails. The
// relay, when configured, is stopped and joined before the store closes.
func runCollector(ctx context.Context, cfg config.Collector, log *zap.Logger) (err error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()
	log.Info("Job store opened", zap.String("path", cfg.DBPath))

	if cfg.RedisURL != "" {
		relay, relayErr := collector.NewRelay(collector.RelayConfig{
			RedisURL: cfg.RedisURL,
			Stream:   cfg.RedisStream,
			Interval: cfg.RelayInterval,
			Logger:   log.Named("relay"),
		}, st)
		if relayErr != nil {
			return fmt.Errorf("relay: %w", relayErr)
		}

		relayCtx, cancelRelay := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Start(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Relay stopped", zap.Error(err))
			}
		}()
		defer func() {
			cancelRelay()
			wg.Wait()
			err = multierr.Append(err, relay.Close())
		}()
		log.Info("Relaying jobs to Redis", zap.String("stream", relay.Stream()))
	}

	server := collector.NewServer(collector.ServerConfig{
		Addr:    cfg.Addr,
		Version: Version,
		Rate:    cfg.IngestRate,
		Logger:  log.Named("collector"),
	}, st)
	return server.Start(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides GLIA_COLLECTOR_ADDR)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "SQLite database path (overrides GLIA_DB_PATH)")
}
