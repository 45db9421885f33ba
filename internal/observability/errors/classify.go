package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// Postgres errors classify by SQLSTATE family; everything else unwraps to the
// innermost concrete type and converts it to snake_case-ish.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return classifyPg(pgErr.Code)
	}

	// Unwrap to the innermost error for better signal.
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

func classifyPg(code string) string {
	switch {
	case code == pgerrcode.UniqueViolation:
		return "pg_unique_violation"
	case code == pgerrcode.ForeignKeyViolation:
		return "pg_foreign_key_violation"
	case code == pgerrcode.SerializationFailure, code == pgerrcode.DeadlockDetected:
		return "pg_concurrency_failure"
	case pgerrcode.IsConnectionException(code):
		return "pg_connection"
	case pgerrcode.IsInsufficientResources(code):
		return "pg_resources"
	default:
		return "pg_" + strings.ToLower(code)
	}
}
