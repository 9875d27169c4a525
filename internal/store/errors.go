package store

import (
	"errors"
	"fmt"
)

// Kind classifies a store error independently of the backend encoding.
type Kind int

const (
	KindUnknown Kind = iota
	KindDuplicate
	KindPermission
	KindMissingResource
)

func (k Kind) String() string {
	switch k {
	case KindDuplicate:
		return "duplicate"
	case KindPermission:
		return "permission"
	case KindMissingResource:
		return "missing_resource"
	default:
		return "unknown"
	}
}

// Error is a classified error reported by a store adapter.
type Error struct {
	Kind    Kind
	Code    string // backend code, e.g. SQLSTATE "23505"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// CodeOf returns the backend code carried by err, if any.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// classifySQLState maps PostgreSQL SQLSTATE and PostgREST codes to kinds.
func classifySQLState(code string) Kind {
	switch code {
	case "23505": // unique_violation
		return KindDuplicate
	case "42501": // insufficient_privilege
		return KindPermission
	case "42P01", "3F000", "PGRST205", "PGRST204": // undefined_table, invalid_schema_name, table/column not in schema cache
		return KindMissingResource
	default:
		return KindUnknown
	}
}
