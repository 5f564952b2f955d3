package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"church-assistant/internal/domain"
)

const defaultRatePrefix = "church-assistant:rate:"

// OpenRedis parses a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("repository: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("repository: connect redis: %w", err)
	}
	return client, nil
}

// RedisWindowStore keeps one hash per rate-limit identifier. Redis expires
// the key once the window is over.
type RedisWindowStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisWindowStore wraps client. An empty prefix selects the default.
func NewRedisWindowStore(client redis.Cmdable, prefix string) (*RedisWindowStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if prefix == "" {
		prefix = defaultRatePrefix
	}
	return &RedisWindowStore{client: client, prefix: prefix}, nil
}

func (s *RedisWindowStore) key(identifier string) string {
	return s.prefix + identifier
}

func (s *RedisWindowStore) GetWindow(ctx context.Context, identifier string) (domain.RateWindow, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(identifier)).Result()
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow hgetall: %w", err)
	}
	if len(fields) == 0 {
		return domain.RateWindow{}, false, nil
	}

	start, err := time.Parse(timeLayout, fields["start"])
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow decode start: %w", err)
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow decode count: %w", err)
	}
	return domain.RateWindow{Identifier: identifier, WindowStart: start, RequestCount: count}, true, nil
}

// PutWindow writes the window hash and resets its expiry to the end of the
// window.
func (s *RedisWindowStore) PutWindow(ctx context.Context, w domain.RateWindow, ttl time.Duration) error {
	expireAt := w.WindowStart.Add(ttl)
	key := s.key(w.Identifier)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "start", formatTime(w.WindowStart), "count", w.RequestCount)
		pipe.PExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: PutWindow: %w", err)
	}
	return nil
}
