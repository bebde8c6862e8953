package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const (
	badgerNamespacePrefix = "ns/"
	badgerKeySeparator    = "\x00"
)

// BadgerStorage stores entries in a BadgerDB key-value store.
// Keys are laid out as `ns/<namespace>\x00<key>` so a namespace
// is a key prefix.
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens a BadgerDB in dir.
// If dir is empty, the database is kept in memory.
func NewBadgerStorage(dir string, logger *zerolog.Logger) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

func namespaceKeyPrefix(name string) []byte {
	return []byte(badgerNamespacePrefix + name + badgerKeySeparator)
}

func entryKey(name, key string) []byte {
	return append(namespaceKeyPrefix(name), key...)
}

func (s *BadgerStorage) Open(ctx context.Context, name string) (Handle, error) {
	return badgerHandle{db: s.db, name: name}, nil
}

func (s *BadgerStorage) Namespaces(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerNamespacePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); {
			k := bytes.TrimPrefix(it.Item().Key(), opts.Prefix)
			i := bytes.IndexByte(k, badgerKeySeparator[0])
			if i < 0 {
				it.Next()
				continue
			}
			name := string(k[:i])
			names = append(names, name)
			// skip the remaining keys of this namespace
			it.Seek(append([]byte(badgerNamespacePrefix+name), badgerKeySeparator[0]+1))
		}
		return nil
	})
	return names, err
}

func (s *BadgerStorage) Delete(ctx context.Context, name string) (bool, error) {
	prefix := namespaceKeyPrefix(name)
	keys := make([][]byte, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return false, err
	}
	txn := s.db.NewTransaction(true)
	for _, k := range keys {
		err := txn.Delete(k)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return false, fmt.Errorf("delete namespace %s: %w", name, err)
			}
			txn = s.db.NewTransaction(true)
			err = txn.Delete(k)
		}
		if err != nil {
			txn.Discard()
			return false, fmt.Errorf("delete namespace %s: %w", name, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("delete namespace %s: %w", name, err)
	}
	return true, nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

type badgerHandle struct {
	db   *badger.DB
	name string
}

func (h badgerHandle) Name() string {
	return h.name
}

func (h badgerHandle) Lookup(ctx context.Context, key string) (CacheEntry, bool, error) {
	var val []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(h.name, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	entry, err := decodeBadgerEntry(key, val)
	if err != nil {
		return CacheEntry{}, false, err
	}
	return entry, true, nil
}

func (h badgerHandle) Put(ctx context.Context, entry CacheEntry) error {
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(h.name, entry.Key), encodeBadgerEntry(entry))
	})
}

func (h badgerHandle) Keys(ctx context.Context, cb func(string)) error {
	prefix := namespaceKeyPrefix(h.name)
	keys := make([]string, 0)
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	// callbacks run outside the transaction
	for _, key := range keys {
		cb(key)
	}
	return nil
}

// value layout: 8 byte big endian unix millis, then the response bytes
func encodeBadgerEntry(entry CacheEntry) []byte {
	buf := make([]byte, 8, 8+len(entry.Bytes))
	binary.BigEndian.PutUint64(buf, uint64(entry.StoredAt.UnixMilli()))
	return append(buf, entry.Bytes...)
}

func decodeBadgerEntry(key string, val []byte) (CacheEntry, error) {
	if len(val) < 8 {
		return CacheEntry{}, fmt.Errorf("corrupt entry %s: %d bytes", key, len(val))
	}
	return CacheEntry{
		Key:      key,
		StoredAt: time.UnixMilli(int64(binary.BigEndian.Uint64(val[:8]))),
		Bytes:    val[8:],
	}, nil
}

// badgerLogger routes badger's internal logging to zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
