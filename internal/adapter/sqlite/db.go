// Package sqlite stores vector collections in a single embedded SQLite file
// and answers nearest-neighbour queries by exhaustive cosine scan.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// FileName is the database file created inside the vector directory.
const FileName = "vectors.db"

type DB struct {
	sqlDB *sql.DB
	path  string
}

// Open opens or creates the vector database inside dir.
func Open(ctx context.Context, dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{sqlDB: sqlDB, path: path}, nil
}

func (db *DB) Path() string { return db.path }

func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// Collection returns a handle on the named collection; it is created
// implicitly by the first write.
func (db *DB) Collection(name string) *Collection {
	return &Collection{db: db.sqlDB, name: name}
}
