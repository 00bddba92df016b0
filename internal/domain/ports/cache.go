package ports

import (
	"context"

	"divisa/internal/domain/model"
)

// Cache is one named partition of stored responses.
type Cache interface {
	Name() string
	Match(ctx context.Context, url string) (*model.CacheEntry, bool, error)
	Put(ctx context.Context, entry *model.CacheEntry) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []*model.CacheEntry) error
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage holds the named partitions. Keys lists names in
// creation order and Match searches partitions in that same order.
type CacheStorage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Match(ctx context.Context, url string) (*model.CacheEntry, bool, error)
}
