package database

import (
	"database/sql"
	"fmt"
)

// schema holds the single kv_cache table both cache tiers persist through.
// expires_at is a Unix timestamp in seconds; expired rows are lazily deleted
// on read.
const schema = `
CREATE TABLE IF NOT EXISTS kv_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_cache_expires_at ON kv_cache(expires_at);
`

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
