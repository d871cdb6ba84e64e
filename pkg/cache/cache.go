package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a TTL key-value store layered in two tiers: a process-local map in
// front of the durable kv_cache table in SQLite.
//
// The local tier only ever mirrors entries that passed through this instance
// and carries the same expiry as the durable row, so it can never serve a
// value the durable tier has already expired. In disabled mode both tiers are
// bypassed entirely: Get always misses and Put is a no-op, which is used to
// diagnose staleness issues without touching code.
//
// The durable tier is an optimization, never a dependency: a failing database
// degrades to cache misses, not errors.
type Cache struct {
	db       *sql.DB
	prefix   string
	disabled bool

	mu    sync.Mutex
	local map[string]entry

	now func() time.Time
}

// New creates a cache over db. Every key is stored under the given prefix so
// independent caches (source payloads vs reconciled worlds) never collide in
// the shared table.
func New(db *sql.DB, prefix string, disabled bool) *Cache {
	return &Cache{
		db:       db,
		prefix:   prefix,
		disabled: disabled,
		local:    make(map[string]entry),
		now:      time.Now,
	}
}

func (c *Cache) Disabled() bool { return c.disabled }

// Get loads the value stored under key into dest and reports whether a live
// entry was found. Expired entries are treated exactly like absent ones.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c.disabled {
		return false
	}

	now := c.now()
	full := c.prefix + key

	c.mu.Lock()
	e, ok := c.local[full]
	c.mu.Unlock()

	if ok && now.Before(e.expiresAt) {
		if err := json.Unmarshal(e.value, dest); err != nil {
			log.Printf("[cache] decode local %s: %v", full, err)
			return false
		}
		return true
	}

	var (
		raw       []byte
		expiresAt int64
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_cache WHERE key = ?`, full)
	if err := row.Scan(&raw, &expiresAt); err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[cache] get %s: %v", full, err)
		}
		return false
	}

	if now.Unix() >= expiresAt {
		// lazy cleanup; a failed delete just means the next read retries
		_, _ = c.db.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, full)
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		log.Printf("[cache] decode %s: %v", full, err)
		return false
	}

	c.mu.Lock()
	c.local[full] = entry{value: raw, expiresAt: time.Unix(expiresAt, 0)}
	c.mu.Unlock()

	return true
}

// Put stores value under key for ttlSeconds. In disabled mode it does
// nothing. Storage failures are logged and swallowed; the caller keeps its
// in-memory value either way.
func (c *Cache) Put(ctx context.Context, key string, value any, ttlSeconds int) {
	if c.disabled {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("[cache] encode %s: %v", c.prefix+key, err)
		return
	}

	full := c.prefix + key
	// truncate to the second: the durable row stores a Unix timestamp, and
	// the local tier must never outlive it, not even fractionally
	expiresAt := time.Unix(c.now().Add(time.Duration(ttlSeconds)*time.Second).Unix(), 0)

	c.mu.Lock()
	c.local[full] = entry{value: raw, expiresAt: expiresAt}
	c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO kv_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		full, raw, expiresAt.Unix()); err != nil {
		log.Printf("[cache] put %s: %v", full, err)
	}
}
