package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"correlator/internal/domain"
)

// SupItemRepository implements store.SupItemRepository using PostgreSQL.
type SupItemRepository struct {
	db *DB
}

// NewSupItemRepository creates a new PostgreSQL-backed supervised item repository.
func NewSupItemRepository(db *DB) *SupItemRepository {
	return &SupItemRepository{db: db}
}

// Resolve returns the item for (host, service), creating it if needed.
func (r *SupItemRepository) Resolve(ctx context.Context, host, service string) (*domain.SupItem, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO supitem (host, service) VALUES ($1, $2)
		ON CONFLICT (host, service) DO UPDATE SET host = EXCLUDED.host
		RETURNING id, host, service
	`

	item, err := scanSupItem(r.db.pool.QueryRow(ctx, query, host, service))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve supitem: %w", err)
	}
	return item, nil
}

// Find returns the item for (host, service).
func (r *SupItemRepository) Find(ctx context.Context, host, service string) (*domain.SupItem, error) {
	return r.getOne(ctx, "host = $1 AND service = $2", host, service)
}

// GetByID retrieves an item by its ID.
func (r *SupItemRepository) GetByID(ctx context.Context, id int64) (*domain.SupItem, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *SupItemRepository) getOne(ctx context.Context, condition string, args ...any) (*domain.SupItem, error) {
	query := fmt.Sprintf(`SELECT id, host, service FROM supitem WHERE %s`, condition)

	item, err := scanSupItem(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSupItemNotFound
		}
		return nil, fmt.Errorf("failed to get supitem: %w", err)
	}
	return item, nil
}

func scanSupItem(row pgx.Row) (*domain.SupItem, error) {
	var item domain.SupItem
	if err := row.Scan(&item.ID, &item.Host, &item.Service); err != nil {
		return nil, err
	}
	return &item, nil
}
