package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/glia-dev/glia/internal/store"
)

// DefaultStream is the Redis stream receiving relayed jobs.
const DefaultStream = "glia:jobs"

// streamMaxLen bounds the stream; trimming is approximate.
const streamMaxLen = 10000

// RelayStore is the persistence the relay needs.
type RelayStore interface {
	QueryUnrelayed(ctx context.Context, limit int) ([]store.Job, error)
	MarkRelayed(ctx context.Context, ids []int64) error
}

// RelayConfig holds configuration for the background relay.
type RelayConfig struct {
	// RedisURL is the Redis connection URL
	RedisURL string

	// Stream is the target stream (default: "glia:jobs")
	Stream string

	// Interval between relay cycles (default: 10s)
	Interval time.Duration

	// BatchSize is the max jobs per cycle (default: 50)
	BatchSize int

	Logger *zap.Logger
}

// Relay periodically forwards stored jobs that have not been relayed yet to
// a Redis stream. A job is marked relayed only after its batch was added.
type Relay struct {
	client    *redis.Client
	store     RelayStore
	stream    string
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewRelay creates a relay publishing to the Redis server at cfg.RedisURL.
func NewRelay(cfg RelayConfig, st RelayStore) (*Relay, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Relay{
		client:    redis.NewClient(opts),
		store:     st,
		stream:    cfg.Stream,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}, nil
}

// Stream returns the target stream name.
func (r *Relay) Stream() string {
	return r.stream
}

// Start runs the relay loop until the context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.Warn("Relay cycle failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce performs a single relay cycle and returns how many jobs were published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	jobs, err := r.store.QueryUnrelayed(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("query unrelayed: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	if err := r.publish(ctx, jobs); err != nil {
		return 0, fmt.Errorf("publish %d jobs: %w", len(jobs), err)
	}

	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := r.store.MarkRelayed(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark relayed: %w", err)
	}

	r.logger.Info("Relayed jobs", zap.Int("count", len(jobs)), zap.String("stream", r.stream))
	return len(jobs), nil
}

func (r *Relay) publish(ctx context.Context, jobs []store.Job) error {
	pipe := r.client.TxPipeline()
	for _, j := range jobs {
		payload, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshal job %d: %w", j.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"id":           strconv.FormatInt(j.ID, 10),
				"run_id":       j.RunID,
				"program_name": j.ProgramName,
				"payload":      string(payload),
			},
			MaxLen: streamMaxLen,
			Approx: true,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}
