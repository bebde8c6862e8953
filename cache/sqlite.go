package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLiteStorage stores all namespaces in a single SQLite table.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	// keepAlive pins an in-memory db, which is dropped with its last connection.
	keepAlive *sql.Conn
}

// NewSQLiteStorage creates a new storage with the given filename as the db.
// If file name is empty, a new in-memory db private to this storage is opened.
func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	inMemory := filename == ""
	if inMemory {
		filename = fmt.Sprintf("file:offline-cache-%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, fmt.Errorf("open sqlite db %s: %w", filename, err)
	}
	var keepAlive *sql.Conn
	if inMemory {
		keepAlive, err = db.Conn(context.Background())
		if err != nil {
			db.Close()
			return SQLiteStorage{}, fmt.Errorf("open sqlite db %s: %w", filename, err)
		}
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		stored_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		closeDB(db, keepAlive)
		return SQLiteStorage{}, fmt.Errorf("create entries table: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		closeDB(db, keepAlive)
		return SQLiteStorage{}, fmt.Errorf("enable wal: %w", err)
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
		keepAlive:  keepAlive,
	}, nil
}

func (s SQLiteStorage) Open(ctx context.Context, name string) (Handle, error) {
	return sqliteHandle{storage: s, name: name}, nil
}

func (s SQLiteStorage) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT namespace FROM entries ORDER BY namespace")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE namespace = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s SQLiteStorage) Close() error {
	return closeDB(s.db, s.keepAlive)
}

func closeDB(db *sql.DB, keepAlive *sql.Conn) error {
	var err error
	if keepAlive != nil {
		err = keepAlive.Close()
	}
	return errors.Join(err, db.Close())
}

type sqliteHandle struct {
	storage SQLiteStorage
	name    string
}

func (h sqliteHandle) Name() string {
	return h.name
}

func (h sqliteHandle) Lookup(ctx context.Context, key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Key: key}
	var storedAt int64
	err := h.storage.db.QueryRowContext(ctx,
		"SELECT stored_at, bytes FROM entries WHERE namespace = ? AND key = ?",
		h.name, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, true, nil
}

func (h sqliteHandle) Put(ctx context.Context, entry CacheEntry) error {
	h.storage.writeMutex.Lock()
	defer h.storage.writeMutex.Unlock()
	_, err := h.storage.db.ExecContext(ctx, `INSERT OR REPLACE INTO entries
		(namespace, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		h.name, entry.Key, entry.StoredAt.UnixMilli(), entry.Bytes)
	return err
}

func (h sqliteHandle) Keys(ctx context.Context, cb func(string)) error {
	rows, err := h.storage.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE namespace = ? ORDER BY key", h.name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}
