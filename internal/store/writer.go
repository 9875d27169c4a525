// Package store persists message records and classifies store failures.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"msgwatch/internal/domain"
	"msgwatch/internal/metrics"
)

// Adapter writes rows to one backend table. Adapters return *Error for
// classifiable failures.
type Adapter interface {
	Insert(ctx context.Context, rec domain.MessageRecord) error
	Upsert(ctx context.Context, rec domain.MessageRecord) error
	Close() error
}

// Reader is implemented by adapters that can read a row back by id. Get
// returns nil when the row is absent or not visible to the credentials.
type Reader interface {
	Get(ctx context.Context, id string) (*domain.MessageRecord, error)
}

// Policy selects how records are written.
type Policy string

const (
	// PolicyInsert needs only INSERT privilege; duplicates are skipped.
	PolicyInsert Policy = "insert"
	// PolicyUpsert updates existing rows and needs UPDATE privilege too.
	PolicyUpsert Policy = "upsert"
)

// Outcome is the result of one Persist call.
type Outcome int

const (
	Written Outcome = iota + 1
	SkippedDuplicate
	SkippedPermission
	SkippedMissingResource
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Written:
		return "written"
	case SkippedDuplicate:
		return "skipped_duplicate"
	case SkippedPermission:
		return "skipped_permission"
	case SkippedMissingResource:
		return "skipped_missing_resource"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stored reports whether the record is present in the store afterwards.
func (o Outcome) Stored() bool {
	return o == Written || o == SkippedDuplicate
}

// Misconfigured reports whether the outcome points at a broken setup that
// affects the whole run rather than this record.
func (o Outcome) Misconfigured() bool {
	return o == SkippedPermission || o == SkippedMissingResource
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Adapter Adapter
	Table   string
	Policy  Policy
	Logger  *slog.Logger
}

// Writer performs exactly one write attempt per record and never returns
// an error to its caller.
type Writer struct {
	adapter Adapter
	table   string
	policy  Policy
	logger  *slog.Logger
}

func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Policy == "" {
		cfg.Policy = PolicyInsert
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{
		adapter: cfg.Adapter,
		table:   cfg.Table,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
	}
}

// Persist writes rec and maps any failure to an Outcome.
func (w *Writer) Persist(ctx context.Context, rec domain.MessageRecord) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("store write panicked", "id", rec.ID, "panic", r)
			outcome = Failed
		}
		metrics.RecordOutcome(outcome.String())
	}()

	var err error
	if w.policy == PolicyUpsert {
		err = w.adapter.Upsert(ctx, rec)
	} else {
		err = w.adapter.Insert(ctx, rec)
	}
	if err == nil {
		w.logger.Info("record written", "id", rec.ID, "table", w.table)
		return Written
	}

	code := CodeOf(err)
	switch KindOf(err) {
	case KindDuplicate:
		w.logger.Info("record already stored, skipping", "id", rec.ID)
		return SkippedDuplicate
	case KindPermission:
		w.logger.Error("store rejected write: permission denied",
			"id", rec.ID, "table", w.table, "code", code, "err", err,
			"hint", w.permissionHint())
		return SkippedPermission
	case KindMissingResource:
		w.logger.Error("store rejected write: table or schema missing",
			"id", rec.ID, "table", w.table, "code", code, "err", err,
			"hint", fmt.Sprintf("create table %q first; `msgwatch selftest --print-schema` prints the DDL", w.table))
		return SkippedMissingResource
	default:
		w.logger.Error("store write failed", "id", rec.ID, "table", w.table, "code", code, "err", err)
		return Failed
	}
}

func (w *Writer) permissionHint() string {
	if w.policy == PolicyUpsert {
		return fmt.Sprintf("upsert needs INSERT and UPDATE on %q; switch store.policy to insert or grant UPDATE", w.table)
	}
	return fmt.Sprintf("grant INSERT on %q and add an insert policy for the key's role, or use the service role key; check that the store url and key belong to the same project", w.table)
}

var (
	_ Reader = (*PostgREST)(nil)
	_ Reader = (*Postgres)(nil)
	_ Reader = (*SQLite)(nil)
)
