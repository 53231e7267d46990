// Package status publishes periodic bridge status snapshots so external
// dashboards can observe the daemon without polling its control API.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"vanb/internal/pipeline"
)

// Snapshot is one published view of the bridge.
type Snapshot struct {
	Running   bool            `json:"running"`
	Mode      string          `json:"mode,omitempty"`
	Stats     *pipeline.Stats `json:"stats,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Publisher pushes snapshots somewhere external.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// NoopPublisher discards snapshots. It is used when no Redis endpoint is
// configured so callers never need conditional logic.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, snapshot Snapshot) error { return nil }

func (NoopPublisher) Close() error { return nil }

// DefaultKey is the Redis key snapshots are written to.
const DefaultKey = "vanb:status"

// DefaultTTL expires stale snapshots when the daemon dies between writes.
const DefaultTTL = 15 * time.Second

// RedisConfig configures the Redis-backed publisher.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Key          string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MasterName   string
}

// RedisPublisher writes each snapshot to a single Redis key with a TTL.
type RedisPublisher struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisPublisher connects to Redis using the provided configuration. The
// caller is responsible for ensuring the instance is reachable.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &RedisPublisher{client: client, key: key, ttl: ttl}, nil
}

// Publish serialises the snapshot and writes it to the configured key.
func (p *RedisPublisher) Publish(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal status snapshot: %w", err)
	}
	if err := p.client.Set(ctx, p.key, payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Reporter periodically captures a snapshot and publishes it.
type Reporter struct {
	publisher Publisher
	capture   func() Snapshot
	interval  time.Duration
	logger    *slog.Logger
}

// NewReporter publishes the result of capture every interval.
func NewReporter(publisher Publisher, capture func() Snapshot, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{publisher: publisher, capture: capture, interval: interval, logger: logger}
}

// Run publishes until the context is cancelled. Publish failures are logged
// and retried on the next tick.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshot := r.capture()
			if snapshot.UpdatedAt.IsZero() {
				snapshot.UpdatedAt = time.Now().UTC()
			}
			if err := r.publisher.Publish(ctx, snapshot); err != nil {
				r.logger.Warn("status publish failed", "error", err)
			}
		}
	}
}
