package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"msgwatch/internal/domain"
)

// Postgres writes rows over the PostgreSQL wire protocol.
type Postgres struct {
	db        *pgxpool.Pool
	insertSQL string
	upsertSQL string
	selectSQL string
}

// NewPostgres connects to dsn and verifies the connection. The table is
// not created; a missing table surfaces as KindMissingResource.
func NewPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	if table == "" {
		return nil, fmt.Errorf("postgres: table is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	insert := fmt.Sprintf(
		`INSERT INTO %s (id, typename, username, createtime, content, url) VALUES ($1, $2, $3, $4, $5, $6)`,
		ident)
	upsert := insert + ` ON CONFLICT (id) DO UPDATE SET
		typename = EXCLUDED.typename,
		username = EXCLUDED.username,
		createtime = EXCLUDED.createtime,
		content = EXCLUDED.content,
		url = EXCLUDED.url`

	sel := fmt.Sprintf(`SELECT id, typename, username, createtime, content, url FROM %s WHERE id = $1`, ident)

	return &Postgres{db: pool, insertSQL: insert, upsertSQL: upsert, selectSQL: sel}, nil
}

// Get returns the row with id, or nil when absent.
func (s *Postgres) Get(ctx context.Context, id string) (*domain.MessageRecord, error) {
	var rec domain.MessageRecord
	var typename, url *string
	err := s.db.QueryRow(ctx, s.selectSQL, id).Scan(&rec.ID, &typename, &rec.Username, &rec.CreateTime, &rec.Content, &url)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPgError(err)
	}
	rec.TypeName = domain.Deref(typename)
	rec.URL = domain.Deref(url)
	return &rec, nil
}

func (s *Postgres) Insert(ctx context.Context, rec domain.MessageRecord) error {
	return s.exec(ctx, s.insertSQL, rec)
}

func (s *Postgres) Upsert(ctx context.Context, rec domain.MessageRecord) error {
	return s.exec(ctx, s.upsertSQL, rec)
}

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func (s *Postgres) exec(ctx context.Context, query string, rec domain.MessageRecord) error {
	_, err := s.db.Exec(ctx, query, rec.ID, rec.TypeName, rec.Username, rec.CreateTime, rec.Content, rec.URL)
	if err == nil {
		return nil
	}
	return classifyPgError(err)
}

func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{
			Kind:    classifySQLState(pgErr.Code),
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Err:     err,
		}
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}
