// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary as a single file.
// No separate database server to run. Use ":memory:" for tests.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so there is no CGo and no C compiler
// needed to build or cross-compile.
//
// CONCURRENCY MODEL:
// SQLite allows a single writer at a time. We cap the pool at ONE connection:
//   - transactions are serialized, so read-then-write inside a Tx is safe
//   - ":memory:" databases are per-connection, so one connection means every
//     query sees the same in-memory database
//
// The UNIQUE constraints in the schema are the real guard on address and
// username. Violations come back from the driver as SQLITE_CONSTRAINT_UNIQUE
// and are translated into apperror.Conflict here, so the service layer never
// sees driver errors.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/repository/sqlite/migrations"
)

// DB wraps a sql.DB connection pool and provides repository methods.
// It implements repository.UserRepository and repository.ActivityRepository.
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/dao.db"  → file-based database (persistent)
//   - ":memory:"     → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers of the file (backups, sqlite3 shell) proceed while we write.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. user_activities → users needs them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return apperror.Persistence("ping", err)
	}
	return nil
}

// migrate applies the embedded SQL migrations with golang-migrate.
//
// golang-migrate records the applied version in a schema_migrations table,
// so each file runs exactly once per database. ErrNoChange just means the
// schema is already current.
//
// The migrate instance is deliberately not closed: closing it would close
// the *sql.DB we handed to it.
func (db *DB) migrate() error {
	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Truncate deletes every activity and user. Seeding only.
func (db *DB) Truncate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM user_activities; DELETE FROM users;`); err != nil {
		return translate("truncate", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so lookups can run
// inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// translate converts a driver error into the repository error contract.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isUniqueViolation(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "users.username"):
			return apperror.Conflict("Username already taken")
		case strings.Contains(msg, "users.address"):
			return apperror.Conflict("Address already registered")
		}
		return apperror.Conflict("Record already exists")
	}
	return apperror.Persistence(op, fmt.Errorf("sqlite: %s: %w", op, err))
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Timestamps that drive ordering and expiry are stored as unix milliseconds.

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
