package db

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/pressly/goose/v3"
	// SQLite driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	driverName    = "sqlite"
	defaultDBPath = "data/intake"
)

// connPragmas tune the connection for a single-writer ingestion workload.
var connPragmas = []string{
	"foreign_keys(ON)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"temp_store(MEMORY)",
	"cache_size(-200000)",
	"wal_autocheckpoint(1000)",
	"optimize",
}

// Database wraps the named statements with the shared connection.
type Database struct {
	*Queries
	db      *sql.DB
	tracker *latencyRecorder
}

// New opens the SQLite database at the given path and applies pending
// migrations.
func New(path string) (*Database, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultDBPath
	}

	conn, err := sql.Open(driverName, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrate(conn); err != nil {
		return nil, err
	}

	recorder := newLatencyRecorder()
	return &Database{
		Queries: NewQueries(newTimedDBTX(conn, recorder)),
		db:      conn,
		tracker: recorder,
	}, nil
}

func migrate(conn *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(driverName); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func sqliteDSN(path string) string {
	values := url.Values{}
	values.Set("_fk", "1")
	for _, pragma := range connPragmas {
		values.Add("_pragma", pragma)
	}
	return fmt.Sprintf("file:%s.sqlite?%s", path, values.Encode())
}

// Close closes the underlying database connection.
func (c *Database) Close() error {
	return c.db.Close()
}
