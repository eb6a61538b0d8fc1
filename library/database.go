package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// dialect builds the search and report queries; sqlx executes them.
var dialect = goqu.Dialect("sqlite3")

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db *sqlx.DB
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
//
// Every transaction is opened with BEGIN IMMEDIATE, so a read-then-write
// sequence (counter check, identifier allocation) holds the write lock from
// its first read and cannot interleave with another writer.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db}, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'librarian' CHECK (role IN ('admin','librarian')),
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id TEXT NOT NULL UNIQUE,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL UNIQUE,
            publisher TEXT NOT NULL DEFAULT '',
            publication_year INTEGER NOT NULL DEFAULT 0,
            category TEXT NOT NULL DEFAULT '',
            edition TEXT NOT NULL DEFAULT '',
            shelf_location TEXT NOT NULL DEFAULT '',
            total_copies INTEGER NOT NULL DEFAULT 1,
            available_copies INTEGER NOT NULL DEFAULT 1,
            added_at DATETIME NOT NULL,
            CHECK (available_copies >= 0 AND available_copies <= total_copies)
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_id TEXT NOT NULL UNIQUE,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            phone TEXT NOT NULL DEFAULT '',
            department TEXT NOT NULL DEFAULT '',
            course TEXT NOT NULL DEFAULT '',
            registration_number TEXT UNIQUE,
            membership_class TEXT NOT NULL DEFAULT 'student' CHECK (membership_class IN ('student','staff','faculty')),
            status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','suspended','graduated')),
            joined_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            loan_id TEXT NOT NULL UNIQUE,
            book_ref INTEGER NOT NULL REFERENCES books(id),
            member_ref INTEGER NOT NULL REFERENCES members(id),
            issued_by INTEGER NOT NULL REFERENCES users(id),
            issued_at DATETIME NOT NULL,
            due_at DATETIME NOT NULL,
            returned_at DATETIME,
            status TEXT NOT NULL DEFAULT 'issued' CHECK (status IN ('issued','returned')),
            fine_amount INTEGER NOT NULL DEFAULT 0,
            renewals INTEGER NOT NULL DEFAULT 0
        );`,
		// At most one issued loan per (book, member).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_pair ON loans(book_ref, member_ref) WHERE status = 'issued';`,
		`CREATE INDEX IF NOT EXISTS idx_loans_member_status ON loans(member_ref, status);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_due ON loans(status, due_at);`,
		`CREATE TABLE IF NOT EXISTS fines (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            loan_ref INTEGER NOT NULL REFERENCES loans(id),
            member_ref INTEGER NOT NULL REFERENCES members(id),
            amount INTEGER NOT NULL CHECK (amount > 0),
            paid_amount INTEGER NOT NULL DEFAULT 0 CHECK (paid_amount >= 0 AND paid_amount <= amount),
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','paid','waived')),
            due_at DATETIME NOT NULL,
            paid_at DATETIME
        );`,
		`CREATE INDEX IF NOT EXISTS idx_fines_member ON fines(member_ref, status);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Transaction helpers
// ---------------------------------------------------------------------------

// withTx runs fn inside one transaction. Any error rolls back every write fn made.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// selectBuilt renders a goqu dataset and scans every row into dest.
func (d *Database) selectBuilt(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return d.db.SelectContext(ctx, dest, query, args...)
}

// getBuilt renders a goqu dataset and scans a single row into dest.
func (d *Database) getBuilt(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return d.db.GetContext(ctx, dest, query, args...)
}

func utc(t time.Time) time.Time { return t.UTC() }

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
