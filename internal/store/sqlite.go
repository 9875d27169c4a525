package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"msgwatch/internal/domain"
)

// SQLite writes rows to a local database file.
type SQLite struct {
	db        *sql.DB
	table     string
	insertSQL string
	upsertSQL string
}

// NewSQLite opens dbPath and creates the table if it does not exist.
func NewSQLite(dbPath, table string) (*SQLite, error) {
	if table == "" {
		return nil, fmt.Errorf("sqlite: table is required")
	}
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	q := quoteSQLiteIdent(table)
	s := &SQLite{
		db:        db,
		table:     table,
		insertSQL: fmt.Sprintf(`INSERT INTO %s (id, typename, username, createtime, content, url) VALUES (?, ?, ?, ?, ?, ?)`, q),
	}
	s.upsertSQL = s.insertSQL + ` ON CONFLICT(id) DO UPDATE SET
		typename = excluded.typename,
		username = excluded.username,
		createtime = excluded.createtime,
		content = excluded.content,
		url = excluded.url`

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id          TEXT PRIMARY KEY,
		typename    TEXT,
		username    TEXT,
		createtime  TEXT,
		content     TEXT,
		url         TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);`, quoteSQLiteIdent(s.table))

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Insert(ctx context.Context, rec domain.MessageRecord) error {
	return s.exec(ctx, s.insertSQL, rec)
}

func (s *SQLite) Upsert(ctx context.Context, rec domain.MessageRecord) error {
	return s.exec(ctx, s.upsertSQL, rec)
}

// Get returns the stored record with id, or nil when absent.
func (s *SQLite) Get(ctx context.Context, id string) (*domain.MessageRecord, error) {
	var rec domain.MessageRecord
	var typename, url sql.NullString
	var username, createtime, content sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, typename, username, createtime, content, url FROM %s WHERE id = ?`, quoteSQLiteIdent(s.table)), id,
	).Scan(&rec.ID, &typename, &username, &createtime, &content, &url)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.TypeName = typename.String
	rec.URL = url.String
	rec.Username = nullablePtr(username)
	rec.CreateTime = nullablePtr(createtime)
	rec.Content = nullablePtr(content)
	return &rec, nil
}

// Count returns the number of stored rows.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteSQLiteIdent(s.table))).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) exec(ctx context.Context, query string, rec domain.MessageRecord) error {
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.TypeName, rec.Username, rec.CreateTime, rec.Content, rec.URL)
	if err == nil {
		return nil
	}
	return classifySQLiteError(err)
}

func classifySQLiteError(err error) error {
	kind := KindUnknown
	code := ""
	var se *sqlite.Error
	if errors.As(err, &se) {
		c := se.Code()
		code = fmt.Sprintf("SQLITE_%d", c)
		switch {
		case c == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, c == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			kind = KindDuplicate
		case c&0xff == sqlite3.SQLITE_READONLY, c&0xff == sqlite3.SQLITE_PERM, c&0xff == sqlite3.SQLITE_AUTH:
			kind = KindPermission
		}
	}

	msg := err.Error()
	if kind == KindUnknown {
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			kind = KindDuplicate
		case strings.Contains(msg, "no such table"):
			kind = KindMissingResource
		}
	}
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func nullablePtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
