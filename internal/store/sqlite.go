package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLite is a persistent CategoryStore backed by a SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) a SQLite category store at the given path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) init() error {
	// Configure SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS categories (
			description TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}

	return nil
}

// LoadCategory returns the serialized model for a description.
func (s *SQLite) LoadCategory(ctx context.Context, description string) (string, error) {
	var model string
	err := s.db.QueryRowContext(ctx,
		"SELECT model FROM categories WHERE description = ?", description).Scan(&model)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNotFound, description)
	}
	if err != nil {
		return "", mapStoreErr(err)
	}
	return model, nil
}

// SaveCategory upserts the serialized model for a description.
func (s *SQLite) SaveCategory(ctx context.Context, description, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (description, model, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(description) DO UPDATE SET
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`, description, model)
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, description)
		}
		return mapStoreErr(err)
	}
	return nil
}

// InsertCategory stores the model only when the description is absent.
func (s *SQLite) InsertCategory(ctx context.Context, description, model string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (description, model, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(description) DO NOTHING
	`, description, model)
	if err != nil {
		return mapStoreErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, description)
	}
	return nil
}

// DeleteCategory removes a description entirely.
func (s *SQLite) DeleteCategory(ctx context.Context, description string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM categories WHERE description = ?", description)
	if err != nil {
		return mapStoreErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, description)
	}
	return nil
}

// ListDescriptions returns every known description.
func (s *SQLite) ListDescriptions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT description FROM categories ORDER BY description")
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var descriptions []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		descriptions = append(descriptions, d)
	}
	return descriptions, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// isSQLiteConstraint reports whether err is a unique-constraint
// violation from the sqlite driver.
func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
