package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"popwatch/pkg/database"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestRoundTrip(t *testing.T) {
	db := testDB(t)
	c := New(db, "test:", false)
	ctx := context.Background()

	type payload struct {
		Name   string         `json:"name"`
		Counts map[string]int `json:"counts"`
		Nested []float64      `json:"nested"`
	}
	in := payload{
		Name:   "emerald",
		Counts: map[string]int{"nc": 91, "tr": 92, "vs": 91},
		Nested: []float64{1.5, 0, -3},
	}

	c.Put(ctx, "w", in, 60)

	var out payload
	if !c.Get(ctx, "w", &out) {
		t.Fatal("expected cache hit immediately after put")
	}
	if out.Name != in.Name || len(out.Counts) != 3 || out.Counts["tr"] != 92 {
		t.Errorf("round trip mismatch: got %+v", out)
	}
	if len(out.Nested) != 3 || out.Nested[0] != 1.5 {
		t.Errorf("nested round trip mismatch: got %v", out.Nested)
	}
}

func TestExpiry(t *testing.T) {
	db := testDB(t)
	c := New(db, "test:", false)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put(ctx, "w", 42, 30)

	var v int
	if !c.Get(ctx, "w", &v) || v != 42 {
		t.Fatalf("expected hit before expiry, got %v", v)
	}

	// one second past the TTL: both tiers must treat the entry as absent
	c.now = func() time.Time { return base.Add(31 * time.Second) }
	if c.Get(ctx, "w", &v) {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestLocalTierNeverOutlivesDurable(t *testing.T) {
	db := testDB(t)
	c := New(db, "test:", false)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put(ctx, "w", "hello", 10)

	var v string
	if !c.Get(ctx, "w", &v) {
		t.Fatal("expected hit to populate the local tier")
	}

	// the local tier holds the entry, but its expiry mirrors the durable row
	c.now = func() time.Time { return base.Add(11 * time.Second) }
	if c.Get(ctx, "w", &v) {
		t.Error("local tier served an entry the durable tier expired")
	}
}

func TestLocalExpiryMatchesDurableGranularity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// put at a half-second offset: the durable row truncates to second 1030,
	// and the local tier must not keep the extra half second
	base := time.Unix(1000, int64(500*time.Millisecond))
	warm := New(db, "test:", false)
	warm.now = func() time.Time { return base }
	warm.Put(ctx, "w", "v", 30)

	later := time.Unix(1030, int64(200*time.Millisecond))
	warm.now = func() time.Time { return later }

	cold := New(db, "test:", false)
	cold.now = func() time.Time { return later }

	var v string
	durableHit := cold.Get(ctx, "w", &v)
	localHit := warm.Get(ctx, "w", &v)

	if durableHit {
		t.Error("durable tier should treat second 1030 as expired")
	}
	if localHit {
		t.Error("local tier served a value the durable tier already expired")
	}
}

func TestDisabledMode(t *testing.T) {
	db := testDB(t)
	c := New(db, "test:", true)
	ctx := context.Background()

	c.Put(ctx, "w", 7, 60)

	var v int
	if c.Get(ctx, "w", &v) {
		t.Error("disabled cache must always miss")
	}

	// the durable tier must not have been written either
	live := New(db, "test:", false)
	if live.Get(ctx, "w", &v) {
		t.Error("disabled put leaked into the durable tier")
	}
}

func TestPrefixIsolation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	srcCache := New(db, "source:", false)
	worldCache := New(db, "world:", false)

	srcCache.Put(ctx, "honu", "bulk-payload", 60)

	var v string
	if worldCache.Get(ctx, "honu", &v) {
		t.Error("caches with different prefixes must not share keys")
	}
	if !srcCache.Get(ctx, "honu", &v) || v != "bulk-payload" {
		t.Errorf("expected source cache hit, got %q", v)
	}
}

func TestGetFreshInstanceReadsDurable(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := New(db, "test:", false)
	a.Put(ctx, "w", []int{1, 10, 13}, 60)

	// a second instance has a cold local tier and must fall through to SQLite
	b := New(db, "test:", false)
	var v []int
	if !b.Get(ctx, "w", &v) {
		t.Fatal("expected durable hit from a fresh instance")
	}
	if len(v) != 3 || v[1] != 10 {
		t.Errorf("durable round trip mismatch: got %v", v)
	}
}
