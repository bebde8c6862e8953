package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]Storage {
	t.Helper()
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	badger, err := NewBadgerStorage("", nil)
	require.NoError(t, err)
	storages := map[string]Storage{
		"memory": NewMemStorage(),
		"sqlite": sqlite,
		"badger": badger,
	}
	t.Cleanup(func() {
		for _, s := range storages {
			s.Close()
		}
	})
	return storages
}

func forEachProvider(t *testing.T, test func(t *testing.T, s Storage)) {
	for name, s := range providers(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			test(t, s)
		})
	}
}

func put(t *testing.T, s Storage, ns, key, value string) {
	t.Helper()
	h, err := s.Open(context.Background(), ns)
	require.NoError(t, err)
	require.NoError(t, h.Put(context.Background(), CacheEntry{
		Key:      key,
		StoredAt: time.UnixMilli(1700000000000),
		Bytes:    []byte(value),
	}))
}

func TestLookupMissing(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		h, err := s.Open(context.Background(), "empty-v1")
		require.NoError(t, err)
		_, ok, err := h.Lookup(context.Background(), "GET:http://localhost/")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPutThenLookup(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		put(t, s, "static-v1", "GET:http://localhost/index.html", "first")
		put(t, s, "static-v1", "GET:http://localhost/index.html", "second")

		h, _ := s.Open(context.Background(), "static-v1")
		entry, ok, err := h.Lookup(context.Background(), "GET:http://localhost/index.html")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", string(entry.Bytes))
		assert.Equal(t, "GET:http://localhost/index.html", entry.Key)
		assert.Equal(t, int64(1700000000000), entry.StoredAt.UnixMilli())
	})
}

func TestNamespacesAreIsolated(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		put(t, s, "a-v1", "k", "a")
		put(t, s, "a-v10", "k", "a10")

		h, _ := s.Open(context.Background(), "a-v1")
		entry, ok, err := h.Lookup(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", string(entry.Bytes))

		other, _ := s.Open(context.Background(), "b-v1")
		_, ok, err = other.Lookup(context.Background(), "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestNamespacesListing(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		// opening alone does not create a namespace
		_, err := s.Open(context.Background(), "unused-v1")
		require.NoError(t, err)

		put(t, s, "A-v1.0", "k1", "x")
		put(t, s, "A-v1.0", "k2", "x")
		put(t, s, "B-v1.0", "k1", "x")
		put(t, s, "A-v1.1", "k1", "x")

		names, err := s.Namespaces(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A-v1.0", "B-v1.0", "A-v1.1"}, names)
	})
}

func TestDelete(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		put(t, s, "A-v1.0", "k1", "x")
		put(t, s, "A-v1.0", "k2", "x")
		put(t, s, "A-v1.1", "k1", "y")

		deleted, err := s.Delete(context.Background(), "A-v1.0")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.Delete(context.Background(), "A-v1.0")
		require.NoError(t, err)
		assert.False(t, deleted)

		names, err := s.Namespaces(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"A-v1.1"}, names)

		h, _ := s.Open(context.Background(), "A-v1.1")
		_, ok, err := h.Lookup(context.Background(), "k1")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestKeys(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		put(t, s, "ns-v1", "GET:http://localhost/b", "x")
		put(t, s, "ns-v1", "GET:http://localhost/a", "x")
		put(t, s, "ns-v2", "GET:http://localhost/c", "x")

		h, _ := s.Open(context.Background(), "ns-v1")
		var keys []string
		require.NoError(t, h.Keys(context.Background(), func(k string) {
			keys = append(keys, k)
		}))
		assert.ElementsMatch(t, []string{"GET:http://localhost/a", "GET:http://localhost/b"}, keys)
		assert.Equal(t, "ns-v1", h.Name())
	})
}

func TestConcurrentPuts(t *testing.T) {
	forEachProvider(t, func(t *testing.T, s Storage) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, _ := s.Open(context.Background(), "ns-v1")
				assert.NoError(t, h.Put(context.Background(), CacheEntry{
					Key:      fmt.Sprintf("k%d", i%5),
					StoredAt: time.Now(),
					Bytes:    []byte(fmt.Sprintf("value-%d", i)),
				}))
			}(i)
		}
		wg.Wait()

		h, _ := s.Open(context.Background(), "ns-v1")
		count := 0
		require.NoError(t, h.Keys(context.Background(), func(string) { count++ }))
		assert.Equal(t, 5, count)
	})
}

func TestSQLiteMemoryStoragesAreIsolated(t *testing.T) {
	first, err := NewSQLiteStorage("")
	require.NoError(t, err)
	defer first.Close()
	second, err := NewSQLiteStorage("")
	require.NoError(t, err)
	defer second.Close()

	put(t, first, "ns-v1", "k", "first")

	names, err := second.Namespaces(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSQLiteMemoryStorageOutlivesIdleConnections(t *testing.T) {
	s, err := NewSQLiteStorage("")
	require.NoError(t, err)
	defer s.Close()
	// every pooled connection is closed as soon as it is released
	s.db.SetMaxIdleConns(0)

	put(t, s, "ns-v1", "k", "value")

	h, err := s.Open(context.Background(), "ns-v1")
	require.NoError(t, err)
	entry, ok, err := h.Lookup(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", string(entry.Bytes))
}
