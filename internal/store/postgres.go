package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Postgres is a persistent CategoryStore backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL category store with the given
// connection string.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.init(); err != nil {
		db.Close()
		return nil, err
	}

	return p, nil
}

func (p *Postgres) init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS categories (
			description TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// LoadCategory returns the serialized model for a description.
func (p *Postgres) LoadCategory(ctx context.Context, description string) (string, error) {
	var model string
	err := p.db.QueryRowContext(ctx,
		"SELECT model FROM categories WHERE description = $1", description).Scan(&model)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNotFound, description)
	}
	if err != nil {
		return "", mapPostgresErr(err)
	}
	return model, nil
}

// SaveCategory upserts the serialized model for a description.
func (p *Postgres) SaveCategory(ctx context.Context, description, model string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO categories (description, model, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (description) DO UPDATE SET
			model = EXCLUDED.model,
			updated_at = NOW()
	`, description, model)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicate, description)
		}
		return mapPostgresErr(err)
	}
	return nil
}

// InsertCategory stores the model only when the description is absent.
func (p *Postgres) InsertCategory(ctx context.Context, description, model string) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO categories (description, model, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (description) DO NOTHING
	`, description, model)
	if err != nil {
		return mapPostgresErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, description)
	}
	return nil
}

// DeleteCategory removes a description entirely.
func (p *Postgres) DeleteCategory(ctx context.Context, description string) error {
	res, err := p.db.ExecContext(ctx,
		"DELETE FROM categories WHERE description = $1", description)
	if err != nil {
		return mapPostgresErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, description)
	}
	return nil
}

// ListDescriptions returns every known description.
func (p *Postgres) ListDescriptions(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT description FROM categories ORDER BY description")
	if err != nil {
		return nil, mapPostgresErr(err)
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
func (p *Postgres) Close() error {
	return p.db.Close()
}

// mapPostgresErr maps pq connection-class errors (SQLSTATE 08xxx) to
// ErrUnavailable before falling through to the shared mapping.
func mapPostgresErr(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Class() == "08" {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return mapStoreErr(err)
}
