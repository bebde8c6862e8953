package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStorage keeps all namespaces in process memory.
type MemStorage struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m MemStorage) Open(ctx context.Context, name string) (Handle, error) {
	return memHandle{storage: m, name: name}, nil
}

func (m MemStorage) Namespaces(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[name]
	delete(m.db, name)
	return ok, nil
}

func (m MemStorage) Close() error {
	return nil
}

type memHandle struct {
	storage MemStorage
	name    string
}

func (h memHandle) Name() string {
	return h.name
}

func (h memHandle) Lookup(ctx context.Context, key string) (CacheEntry, bool, error) {
	h.storage.mutex.RLock()
	defer h.storage.mutex.RUnlock()
	entry, ok := h.storage.db[h.name][key]
	return entry, ok, nil
}

func (h memHandle) Put(ctx context.Context, entry CacheEntry) error {
	h.storage.mutex.Lock()
	defer h.storage.mutex.Unlock()
	ns, ok := h.storage.db[h.name]
	if !ok {
		ns = make(map[string]CacheEntry)
		h.storage.db[h.name] = ns
	}
	// copy bytes so callers cannot mutate the stored entry
	entry.Bytes = append([]byte(nil), entry.Bytes...)
	ns[entry.Key] = entry
	return nil
}

func (h memHandle) Keys(ctx context.Context, cb func(string)) error {
	h.storage.mutex.RLock()
	keys := make([]string, 0, len(h.storage.db[h.name]))
	for key := range h.storage.db[h.name] {
		keys = append(keys, key)
	}
	h.storage.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
