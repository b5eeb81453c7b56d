package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// JournalTables are the tables the compliance journal writes to. A
// deployment missing any of them has not run ApplyMigrations yet.
var JournalTables = []string{"audit_events", "paper_orders", "paper_trades", "users", "exchange_credentials"}

// Database is the compliance journal: audit events, order states and fills
// appended by the batch writer, plus accounts and sealed credentials.
type Database struct {
	DB *sql.DB
}

// New opens the journal at path, creating its directory when needed.
// Audit rows are appended from one batch writer while API reads run
// alongside, so file databases use WAL and wait on a busy lock instead of
// failing the flush.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One connection: ":memory:" would otherwise give each conn its own db.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// Queries returns the typed query helpers bound to this handle.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// MissingTables pings the journal and lists JournalTables not present.
func (d *Database) MissingTables(ctx context.Context) ([]string, error) {
	if err := d.DB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	var missing []string
	for _, table := range JournalTables {
		var name string
		err := d.DB.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			missing = append(missing, table)
		case err != nil:
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
	}
	return missing, nil
}

func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
