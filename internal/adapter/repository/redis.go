package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

const defaultKeyPrefix = "varonis:bookmark"

// RedisConfig configures the Redis bookmark store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisBookmarkStore keeps fetch bookmarks as JSON values under
// <prefix>:<key>.
type RedisBookmarkStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBookmarkStore connects and pings Redis.
func NewRedisBookmarkStore(cfg RedisConfig) (*RedisBookmarkStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis bookmark store: %w", err)
	}

	return &RedisBookmarkStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

func (s *RedisBookmarkStore) Load(ctx context.Context, key string) (domain.Bookmark, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Bookmark{}, false, nil
	}
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("get bookmark %q: %w", key, err)
	}

	var bm domain.Bookmark
	if err := json.Unmarshal(raw, &bm); err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("decode bookmark %q: %w", key, err)
	}
	return bm, true, nil
}

func (s *RedisBookmarkStore) Save(ctx context.Context, key string, bm domain.Bookmark) error {
	raw, err := json.Marshal(bm)
	if err != nil {
		return fmt.Errorf("encode bookmark: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("set bookmark %q: %w", key, err)
	}
	return nil
}

func (s *RedisBookmarkStore) Close() error {
	return s.client.Close()
}

func (s *RedisBookmarkStore) key(k string) string {
	return s.prefix + ":" + k
}
