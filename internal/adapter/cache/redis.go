package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/pkg/logger"
)

// RedisStorage keeps partitions in Redis so that several shell
// instances share them. Layout:
//
//	<prefix>:names        ZSET of partition names scored by creation sequence
//	<prefix>:seq          creation sequence counter
//	<prefix>:cache:<name> HASH of url -> JSON encoded entry
type RedisStorage struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

func NewRedisStorage(client *redis.Client, prefix string, log *logger.Logger) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix, log: log}
}

// NewRedisStorageFromURL parses a redis:// URL and pings the server.
func NewRedisStorageFromURL(ctx context.Context, url, prefix string, log *logger.Logger) (*RedisStorage, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStorage(client, prefix, log), nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":names"
}

func (s *RedisStorage) seqKey() string {
	return s.prefix + ":seq"
}

func (s *RedisStorage) cacheKey(name string) string {
	return s.prefix + ":cache:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (ports.Cache, error) {
	err := s.client.ZScore(ctx, s.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		seq, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
		}
		if err := s.client.ZAddNX(ctx, s.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
			return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
		}
		s.log.Debug("Cache opened", "cache", name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}

	return &RedisCache{name: name, key: s.cacheKey(name), client: s.client, log: s.log}, nil
}

func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	if removed.Val() > 0 {
		s.log.Debug("Cache deleted", "cache", name)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	return names, nil
}

func (s *RedisStorage) Match(ctx context.Context, url string) (*model.CacheEntry, bool, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		c := &RedisCache{name: name, key: s.cacheKey(name), client: s.client, log: s.log}
		entry, ok, err := c.Match(ctx, url)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return entry, true, nil
		}
	}
	return nil, false, nil
}

type RedisCache struct {
	name   string
	key    string
	client *redis.Client
	log    *logger.Logger
}

func (c *RedisCache) Name() string {
	return c.name
}

func (c *RedisCache) Match(ctx context.Context, url string) (*model.CacheEntry, bool, error) {
	data, err := c.client.HGet(ctx, c.key, url).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.Debug("Cache miss", "cache", c.name, "url", url)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache %s: %w", c.name, err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s in %s: %w", url, c.name, err)
	}
	c.log.Debug("Cache hit", "cache", c.name, "url", url)
	return &entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, entry *model.CacheEntry) error {
	return c.PutAll(ctx, []*model.CacheEntry{entry})
}

// PutAll writes every entry with a single HSET, which Redis applies
// atomically.
func (c *RedisCache) PutAll(ctx context.Context, entries []*model.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]any, 0, len(entries)*2)
	for _, e := range entries {
		if e == nil || e.URL == "" {
			return ErrInvalidEntry
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode cache entry %s: %w", e.URL, err)
		}
		values = append(values, e.URL, data)
	}

	if err := c.client.HSet(ctx, c.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to write cache %s: %w", c.name, err)
	}
	c.log.Debug("Cache set", "cache", c.name, "entries", len(entries))
	return nil
}

func (c *RedisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.client.HKeys(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache %s: %w", c.name, err)
	}
	sort.Strings(keys)
	return keys, nil
}
