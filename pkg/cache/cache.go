// Package cache stores compiled functions in a SQLite database keyed by the
// text they were compiled from.
package cache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/wrapl/minilang-sub003/pkg/bytecode"
)

var log = commonlog.GetLogger("minilang.cache")

// ErrNotFound indicates the key has no cached function.
var ErrNotFound = errors.New("cache entry not found")

// Key identifies a compilation: the source name, its text and a salt
// describing the compiler configuration.
type Key [32]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// KeyOf computes the key of a compilation.
func KeyOf(source, text, salt string) Key {
	h, _ := blake2b.New256(nil)
	for _, s := range []string{source, text, salt} {
		fmt.Fprintf(h, "%d:", len(s))
		h.Write([]byte(s))
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Cache is a compile cache backed by SQLite. It is safe for concurrent use.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	hits, misses int
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS funcs (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		source TEXT NOT NULL,
		code BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db, path: path}, nil
}

// Path returns the database path.
func (c *Cache) Path() string { return c.path }

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the function stored under key. Entries written by another
// wire version are reported as missing.
func (c *Cache) Get(key Key) (*bytecode.Func, error) {
	var (
		version int
		data    []byte
	)
	err := c.db.QueryRow("SELECT version, code FROM funcs WHERE key = ?", key.String()).Scan(&version, &data)
	if err == nil && version != bytecode.WireVersion {
		err = sql.ErrNoRows
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.count(false)
			log.Debugf("miss %s", key)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}

	fn, err := bytecode.Unmarshal(data)
	if err != nil {
		log.Warningf("dropping corrupt entry %s: %s", key, err)
		c.Delete(key)
		c.count(false)
		return nil, ErrNotFound
	}
	c.count(true)
	log.Debugf("hit %s (%s)", key, fn.Source)
	return fn, nil
}

// Put stores fn under key. Functions embedding constants with no wire
// form return bytecode.ErrUnencodable and are not stored.
func (c *Cache) Put(key Key, fn *bytecode.Func) error {
	data, err := bytecode.Marshal(fn)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO funcs (key, version, source, code) VALUES (?, ?, ?, ?)",
		key.String(), bytecode.WireVersion, fn.Source, data,
	)
	if err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM funcs WHERE key = ?", key.String()); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM funcs"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM funcs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Stats returns the hit and miss counts since Open.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}
