package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB     *sql.DB
	Driver string
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db, Driver: DriverSQLite}, nil
}

// Open selects the driver by name; dsn is a file path for sqlite and a
// connection URL for postgres.
func Open(driver, dsn string) (*Database, error) {
	switch driver {
	case "", DriverSQLite:
		return New(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("DATABASE_URL is required for postgres")
		}
		db, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		return &Database{DB: db, Driver: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Queries returns a query set bound to the pooled handle.
func (d *Database) Queries() *Queries {
	return &Queries{db: d.DB, driver: d.Driver}
}

// WithTx runs fn inside one transaction. fn's error (or a panic) rolls
// everything back; a nil return commits.
func (d *Database) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin tx", Err: err}
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Queries{db: tx, driver: d.Driver, inTx: true}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// Rebind rewrites ? placeholders into $n for postgres.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
