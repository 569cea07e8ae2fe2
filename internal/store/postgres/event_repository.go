package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"correlator/internal/domain"
)

const eventColumns = `id, supitem_id, current_state, initial_state, peak_state, message, timestamp`

// EventRepository implements store.EventRepository using PostgreSQL.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new PostgreSQL-backed event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create stores a new event and sets its ID.
func (r *EventRepository) Create(ctx context.Context, event *domain.Event) error {
	query := `
		INSERT INTO event (supitem_id, current_state, initial_state, peak_state, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.db.pool.QueryRow(ctx, query,
		event.SupItemID,
		event.CurrentState.String(),
		event.InitialState.String(),
		event.PeakState.String(),
		event.Message,
		event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// Update modifies an existing event.
func (r *EventRepository) Update(ctx context.Context, event *domain.Event) error {
	query := `
		UPDATE event SET
			current_state = $2,
			peak_state = $3,
			message = $4,
			timestamp = $5
		WHERE id = $1
	`

	result, err := r.db.pool.Exec(ctx, query,
		event.ID,
		event.CurrentState.String(),
		event.PeakState.String(),
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}

	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetLatestForItem returns the most recent event of a supervised item.
func (r *EventRepository) GetLatestForItem(ctx context.Context, supItemID int64) (*domain.Event, error) {
	return r.getOne(ctx, "supitem_id = $1 ORDER BY id DESC LIMIT 1", supItemID)
}

func (r *EventRepository) getOne(ctx context.Context, condition string, args ...any) (*domain.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM event WHERE %s`, eventColumns, condition)

	event, err := scanEvent(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// scanEvent scans a single row into an Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var event domain.Event
	var current, initial, peak string

	err := row.Scan(
		&event.ID,
		&event.SupItemID,
		&current,
		&initial,
		&peak,
		&event.Message,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if event.CurrentState, err = domain.ParseState(current); err != nil {
		return nil, err
	}
	if event.InitialState, err = domain.ParseState(initial); err != nil {
		return nil, err
	}
	if event.PeakState, err = domain.ParseState(peak); err != nil {
		return nil, err
	}
	return &event, nil
}
