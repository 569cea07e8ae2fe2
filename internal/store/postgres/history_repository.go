package postgres

import (
	"context"
	"fmt"

	"correlator/internal/domain"
)

// HistoryRepository implements store.HistoryRepository using PostgreSQL.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new PostgreSQL-backed history repository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append stores a new history record and sets its ID.
func (r *HistoryRepository) Append(ctx context.Context, h *domain.History) error {
	query := `
		INSERT INTO history (event_id, type, value, text, username, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.db.pool.QueryRow(ctx, query,
		h.EventID, h.Type, h.Value, h.Text, h.Username, h.Timestamp,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListForEvent returns the history of a raw event, oldest first.
func (r *HistoryRepository) ListForEvent(ctx context.Context, eventID int64) ([]*domain.History, error) {
	query := `
		SELECT id, event_id, type, value, text, username, timestamp
		FROM history
		WHERE event_id = $1
		ORDER BY id
	`

	rows, err := r.db.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var results []*domain.History
	for rows.Next() {
		var h domain.History
		if err := rows.Scan(&h.ID, &h.EventID, &h.Type, &h.Value, &h.Text, &h.Username, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		results = append(results, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return results, nil
}
