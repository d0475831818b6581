package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

// Store mirrors settled usage records outside the process so a restarted
// ledger can rehydrate its window. The in-memory ledger stays authoritative;
// the store is best-effort.
type Store interface {
	Append(ctx context.Context, rec UsageRecord) error
	Load(ctx context.Context, since time.Time) ([]UsageRecord, error)
	Close() error
}

// RedisConfig contains usage-mirror connection settings.
type RedisConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	URL            string `yaml:"url" mapstructure:"url"`
	KeyPrefix      string `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// RedisStore keeps usage records in a sorted set scored by timestamp, which
// makes both the trailing-window load and the retention trim one range op.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *logger.Logger
}

// NewRedisStore connects and pings; a store that cannot reach Redis fails
// construction rather than silently dropping every mirror write.
func NewRedisStore(cfg RedisConfig, log *logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "warden"
	}

	store := &RedisStore{
		client: client,
		key:    prefix + ":usage",
		logger: log.WithComponent("budget.store"),
	}

	store.logger.Info("usage store initialized",
		zap.String("redis_url", maskRedisURL(cfg.URL)),
		zap.String("key", store.key),
	)
	return store, nil
}

// Append writes one record and trims members older than the retention
// window in the same round trip.
func (s *RedisStore) Append(ctx context.Context, rec UsageRecord) error {
	member, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	cutoff := rec.Timestamp.Add(-RetentionWindow).UnixNano()

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.key, &redis.Z{
		Score:  float64(rec.Timestamp.UnixNano()),
		Member: member,
	})
	pipe.ZRemRangeByScore(ctx, s.key, "-inf", strconv.FormatInt(cutoff, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Load returns every mirrored record with a timestamp after since.
func (s *RedisStore) Load(ctx context.Context, since time.Time) ([]UsageRecord, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load usage records: %w", err)
	}

	records := make([]UsageRecord, 0, len(members))
	for _, member := range members {
		var rec UsageRecord
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			s.logger.Warn("skipping corrupt usage record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// maskRedisURL hides the password portion of a Redis URL for logging.
// Keep in sync with maskDatabaseURL in the audit package.
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	head := url[:at]
	if colon := strings.LastIndex(head, ":"); colon > strings.Index(head, "//")+1 {
		head = head[:colon+1] + "***"
	}
	return head + url[at:]
}
