package cache

import (
	"context"
	"errors"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/pkg/logger"
)

var ErrInvalidEntry = errors.New("cache entry has no url")

// MemoryStorage keeps partitions in process. Each partition is a go-cache
// instance without expiration: entries leave only when their partition
// is deleted.
type MemoryStorage struct {
	mutex  sync.RWMutex
	order  []string
	caches map[string]*MemoryCache
	log    *logger.Logger
}

func NewMemoryStorage(log *logger.Logger) *MemoryStorage {
	return &MemoryStorage{
		caches: make(map[string]*MemoryCache),
		log:    log,
	}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (ports.Cache, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	c := &MemoryCache{
		name:  name,
		items: gocache.New(gocache.NoExpiration, 0),
		log:   s.log,
	}
	s.caches[name] = c
	s.order = append(s.order, name)
	s.log.Debug("Cache opened", "cache", name)
	return c, nil
}

func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c, ok := s.caches[name]
	if !ok {
		return false, nil
	}
	c.items.Flush()
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Debug("Cache deleted", "cache", name)
	return true, nil
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Match searches partitions in creation order and returns the first hit.
func (s *MemoryStorage) Match(ctx context.Context, url string) (*model.CacheEntry, bool, error) {
	s.mutex.RLock()
	caches := make([]*MemoryCache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mutex.RUnlock()

	for _, c := range caches {
		if entry, ok, _ := c.Match(ctx, url); ok {
			return entry, true, nil
		}
	}
	return nil, false, nil
}

type MemoryCache struct {
	name string
	// go-cache locks per call; mutex makes a PutAll batch visible to
	// Match and Keys all at once.
	mutex sync.RWMutex
	items *gocache.Cache
	log   *logger.Logger
}

func (c *MemoryCache) Name() string {
	return c.name
}

func (c *MemoryCache) Match(ctx context.Context, url string) (*model.CacheEntry, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	v, found := c.items.Get(url)
	if !found {
		c.log.Debug("Cache miss", "cache", c.name, "url", url)
		return nil, false, nil
	}
	c.log.Debug("Cache hit", "cache", c.name, "url", url)
	return v.(*model.CacheEntry).Clone(), true, nil
}

func (c *MemoryCache) Put(ctx context.Context, entry *model.CacheEntry) error {
	return c.PutAll(ctx, []*model.CacheEntry{entry})
}

func (c *MemoryCache) PutAll(ctx context.Context, entries []*model.CacheEntry) error {
	for _, e := range entries {
		if e == nil || e.URL == "" {
			return ErrInvalidEntry
		}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, e := range entries {
		c.items.Set(e.URL, e.Clone(), gocache.NoExpiration)
		c.log.Debug("Cache set", "cache", c.name, "url", e.URL)
	}
	return nil
}

func (c *MemoryCache) Keys(ctx context.Context) ([]string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	items := c.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
