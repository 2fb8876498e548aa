package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"procodus.dev/telemetry-hub/internal/telemetry"
)

// Outcome is the result of one ingestion attempt.
type Outcome string

const (
	// OutcomeAccepted means the record was stored.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeRejected means the input was refused as a client error.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means parsing or storage failed internally.
	OutcomeFailed Outcome = "failed"
)

var (
	outcomes = []Outcome{OutcomeAccepted, OutcomeRejected, OutcomeFailed}
	sources  = []telemetry.Source{telemetry.SourceRadio, telemetry.SourceNetwork}
)

// SourceStats are the ingestion counters of one source.
type SourceStats struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`
}

func (s *SourceStats) add(o Outcome, n int64) {
	switch o {
	case OutcomeAccepted:
		s.Accepted += n
	case OutcomeRejected:
		s.Rejected += n
	case OutcomeFailed:
		s.Failed += n
	}
}

// IngestStats counts ingestion outcomes per source.
type IngestStats interface {
	Incr(ctx context.Context, source telemetry.Source, outcome Outcome) error
	Snapshot(ctx context.Context) (map[telemetry.Source]SourceStats, error)
	Close() error
}

// MemoryStats keeps counters in process memory. They reset on restart.
type MemoryStats struct {
	mu       sync.Mutex
	counters map[telemetry.Source]SourceStats
}

var _ IngestStats = (*MemoryStats)(nil)

// NewMemoryStats creates zeroed in-memory counters.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{counters: make(map[telemetry.Source]SourceStats)}
}

// Incr implements IngestStats.
func (m *MemoryStats) Incr(_ context.Context, source telemetry.Source, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.counters[source]
	s.add(outcome, 1)
	m.counters[source] = s
	return nil
}

// Snapshot implements IngestStats. Both sources are always present.
func (m *MemoryStats) Snapshot(context.Context) (map[telemetry.Source]SourceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[telemetry.Source]SourceStats, len(sources))
	for _, src := range sources {
		out[src] = m.counters[src]
	}
	return out, nil
}

// Close implements IngestStats.
func (m *MemoryStats) Close() error {
	return nil
}

// RedisConfig holds the Redis connection settings for shared counters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the counter keys. Defaults to "telemetry-hub".
	KeyPrefix string
}

// RedisStats keeps counters in Redis so that several server instances share them and they
// survive restarts.
type RedisStats struct {
	client *redis.Client
	prefix string
}

var _ IngestStats = (*RedisStats)(nil)

// NewRedisStats connects to Redis and verifies the connection.
func NewRedisStats(ctx context.Context, cfg *RedisConfig) (*RedisStats, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}

	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "telemetry-hub"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStats{client: client, prefix: prefix}, nil
}

func (r *RedisStats) key(source telemetry.Source, outcome Outcome) string {
	return fmt.Sprintf("%s:ingest:%s:%s", r.prefix, source, outcome)
}

// Incr implements IngestStats.
func (r *RedisStats) Incr(ctx context.Context, source telemetry.Source, outcome Outcome) error {
	if err := r.client.Incr(ctx, r.key(source, outcome)).Err(); err != nil {
		return fmt.Errorf("failed to increment counter: %w", err)
	}
	return nil
}

// Snapshot implements IngestStats. Missing keys count as zero.
func (r *RedisStats) Snapshot(ctx context.Context) (map[telemetry.Source]SourceStats, error) {
	keys := make([]string, 0, len(sources)*len(outcomes))
	for _, src := range sources {
		for _, o := range outcomes {
			keys = append(keys, r.key(src, o))
		}
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	out := make(map[telemetry.Source]SourceStats, len(sources))
	i := 0
	for _, src := range sources {
		var s SourceStats
		for _, o := range outcomes {
			n, err := counterValue(vals[i])
			if err != nil {
				return nil, fmt.Errorf("bad counter %s: %w", keys[i], err)
			}
			s.add(o, n)
			i++
		}
		out[src] = s
	}
	return out, nil
}

// Close implements IngestStats.
func (r *RedisStats) Close() error {
	return r.client.Close()
}

func counterValue(v any) (int64, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
