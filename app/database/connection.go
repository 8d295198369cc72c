package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"testing"

	_ "modernc.org/sqlite"
)

// DB is the single store connection shared by the pipeline.
type DB struct {
	*sql.DB
	path string
}

// NewConnection opens the SQLite database at path and brings its schema up to date.
func NewConnection(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: ":memory:" databases are per connection and the
	// pipeline writes strictly one item at a time.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}

	version, err := db.Migrate()
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	slog.Debug("Database ready", "path", path, "schema_version", version)

	return db, nil
}

func (db *DB) String() string {
	return "DB: " + db.path
}

// NewTestDB creates a fresh in-memory database with all migrations applied.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	db, err := NewConnection(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
