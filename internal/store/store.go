// Package store persists serialized classifier models keyed by their
// category description. The store is the single source of truth; the
// in-process model cache and the remote mirror are both derived from it.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound    = errors.New("store: category not found")
	ErrDuplicate   = errors.New("store: category already exists")
	ErrUnavailable = errors.New("store: unavailable")
)

// CategoryStore maps a category description to its serialized model.
type CategoryStore interface {
	// LoadCategory returns the serialized model for a description.
	// Returns ErrNotFound when the description is unknown.
	LoadCategory(ctx context.Context, description string) (string, error)

	// SaveCategory upserts the serialized model for a description.
	// The upsert is atomic: concurrent first writes for the same
	// description cannot race an existence check.
	SaveCategory(ctx context.Context, description, model string) error

	// InsertCategory stores the model only when the description is not
	// already present, atomically. Returns ErrDuplicate when it is; the
	// existing model is left untouched.
	InsertCategory(ctx context.Context, description, model string) error

	// DeleteCategory removes a description entirely. Deleting an
	// unknown description returns ErrNotFound.
	DeleteCategory(ctx context.Context, description string) error

	// ListDescriptions returns every known description.
	ListDescriptions(ctx context.Context) ([]string, error)

	// Close releases the underlying connection handle.
	Close() error
}

// Open creates a CategoryStore for the given driver. Supported drivers
// are "sqlite" (dsn is a file path) and "postgres" (dsn is a
// connection string).
func Open(driver, dsn string) (CategoryStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// mapStoreErr converts context cancellation and lost-connection errors
// into ErrUnavailable so a timed-out or closed store degrades the
// request instead of leaking a raw driver error to the caller.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, driver.ErrBadConn),
		strings.Contains(err.Error(), "database is closed"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
