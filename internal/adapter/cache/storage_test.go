package cache

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/pkg/logger"
)

func storages(t *testing.T) map[string]ports.CacheStorage {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]ports.CacheStorage{
		"memory": NewMemoryStorage(logger.Discard()),
		"redis":  NewRedisStorage(client, "test:shell", logger.Discard()),
	}
}

func entry(url, body string) *model.CacheEntry {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return model.NewCacheEntry(url, http.StatusOK, header, []byte(body))
}

func TestStorage_OpenPutMatch(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c, err := storage.Open(ctx, "static-v1")
			require.NoError(t, err)
			assert.Equal(t, "static-v1", c.Name())

			require.NoError(t, c.Put(ctx, entry("/static/js/app.js", "console.log(1)")))

			got, ok, err := c.Match(ctx, "/static/js/app.js")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, http.StatusOK, got.StatusCode)
			assert.Equal(t, "console.log(1)", string(got.Body))
			assert.Equal(t, "application/json", got.Header.Get("Content-Type"))

			_, ok, err = c.Match(ctx, "/missing")
			require.NoError(t, err)
			assert.False(t, ok)

			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"/static/js/app.js"}, keys)
		})
	}
}

func TestStorage_MatchSearchesInCreationOrder(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := storage.Open(ctx, "first")
			require.NoError(t, err)
			second, err := storage.Open(ctx, "second")
			require.NoError(t, err)

			require.NoError(t, second.Put(ctx, entry("/api/rates", `{"from":"second"}`)))
			require.NoError(t, first.Put(ctx, entry("/api/rates", `{"from":"first"}`)))
			require.NoError(t, second.Put(ctx, entry("/api/status", `{"from":"second"}`)))

			got, ok, err := storage.Match(ctx, "/api/rates")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"from":"first"}`, string(got.Body))

			got, ok, err = storage.Match(ctx, "/api/status")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"from":"second"}`, string(got.Body))

			names, err := storage.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second"}, names)
		})
	}
}

func TestStorage_OpenIsIdempotent(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c, err := storage.Open(ctx, "dynamic")
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, entry("/api/health", `{}`)))

			again, err := storage.Open(ctx, "dynamic")
			require.NoError(t, err)
			_, ok, err := again.Match(ctx, "/api/health")
			require.NoError(t, err)
			assert.True(t, ok)

			names, err := storage.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"dynamic"}, names)
		})
	}
}

func TestStorage_Delete(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c, err := storage.Open(ctx, "old")
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, entry("/", "<html>")))

			deleted, err := storage.Delete(ctx, "old")
			require.NoError(t, err)
			assert.True(t, deleted)

			has, err := storage.Has(ctx, "old")
			require.NoError(t, err)
			assert.False(t, has)

			_, ok, err := storage.Match(ctx, "/")
			require.NoError(t, err)
			assert.False(t, ok)

			deleted, err = storage.Delete(ctx, "old")
			require.NoError(t, err)
			assert.False(t, deleted)

			// Reopening starts empty.
			c, err = storage.Open(ctx, "old")
			require.NoError(t, err)
			_, ok, err = c.Match(ctx, "/")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStorage_PutAllRejectsWholeBatch(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c, err := storage.Open(ctx, "static")
			require.NoError(t, err)

			err = c.PutAll(ctx, []*model.CacheEntry{entry("/a", "a"), {URL: ""}})
			assert.ErrorIs(t, err, ErrInvalidEntry)

			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestMemoryCache_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(logger.Discard())
	c, err := storage.Open(ctx, "static")
	require.NoError(t, err)

	original := entry("/", "shell")
	require.NoError(t, c.Put(ctx, original))
	original.Body[0] = 'X'

	got, ok, err := c.Match(ctx, "/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shell", string(got.Body))

	got.Body[0] = 'Y'
	again, _, _ := c.Match(ctx, "/")
	assert.Equal(t, "shell", string(again.Body))
}

func TestMemoryCache_PutAllIsAtomicToReaders(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(logger.Discard())
	c, err := storage.Open(ctx, "static")
	require.NoError(t, err)

	batch := make([]*model.CacheEntry, 50)
	for i := range batch {
		batch[i] = entry(fmt.Sprintf("/asset/%d", i), "x")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.PutAll(ctx, batch))
	}()

	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		keys, err := c.Keys(ctx)
		require.NoError(t, err)
		if len(keys) != 0 {
			require.Len(t, keys, len(batch), "a reader saw part of the batch")
		}
	}

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(batch))
}
