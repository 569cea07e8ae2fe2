package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"correlator/internal/domain"
)

const corrEventColumns = `c.id, c.cause_id, c.priority, c.occurrence, c.ack, c.timestamp_active,
	COALESCE(c.trouble_ticket, ''), c.impacted_hls`

// causeResolved is true when the cause event of c is OK or UP.
const causeResolved = `e.current_state IN ('OK', 'UP')`

// CorrEventRepository implements store.CorrEventRepository using PostgreSQL.
type CorrEventRepository struct {
	db *DB
}

// NewCorrEventRepository creates a new PostgreSQL-backed correlated event repository.
func NewCorrEventRepository(db *DB) *CorrEventRepository {
	return &CorrEventRepository{db: db}
}

// Create stores a new correlated event and sets its ID.
func (r *CorrEventRepository) Create(ctx context.Context, ce *domain.CorrEvent) error {
	query := `
		INSERT INTO correvent (
			cause_id, priority, occurrence, ack, timestamp_active, trouble_ticket, impacted_hls
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.pool.QueryRow(ctx, query,
		ce.CauseID,
		ce.Priority,
		ce.Occurrence,
		string(ce.Ack),
		ce.Timestamp,
		nullableString(ce.TroubleTicket),
		hlsNames(ce.ImpactedHLS),
	).Scan(&ce.ID)
	if err != nil {
		return fmt.Errorf("failed to create correvent: %w", err)
	}

	return nil
}

// Update modifies an existing correlated event.
func (r *CorrEventRepository) Update(ctx context.Context, ce *domain.CorrEvent) error {
	query := `
		UPDATE correvent SET
			cause_id = $2,
			priority = $3,
			occurrence = $4,
			ack = $5,
			timestamp_active = $6,
			trouble_ticket = $7,
			impacted_hls = $8
		WHERE id = $1
	`

	result, err := r.db.pool.Exec(ctx, query,
		ce.ID,
		ce.CauseID,
		ce.Priority,
		ce.Occurrence,
		string(ce.Ack),
		ce.Timestamp,
		nullableString(ce.TroubleTicket),
		hlsNames(ce.ImpactedHLS),
	)
	if err != nil {
		return fmt.Errorf("failed to update correvent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrCorrEventNotFound
	}

	return nil
}

// Delete removes a correlated event; membership rows cascade.
func (r *CorrEventRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM correvent WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete correvent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrCorrEventNotFound
	}

	return nil
}

// GetByID retrieves a correlated event by its ID.
func (r *CorrEventRepository) GetByID(ctx context.Context, id int64) (*domain.CorrEvent, error) {
	return r.getOne(ctx, "c.id = $1", id)
}

// GetByCause retrieves the most recent correlated event caused by a raw event.
func (r *CorrEventRepository) GetByCause(ctx context.Context, causeEventID int64) (*domain.CorrEvent, error) {
	return r.getOne(ctx, "c.cause_id = $1 ORDER BY c.id DESC LIMIT 1", causeEventID)
}

// FindEligibleForItem returns the incident new observations of an item update.
func (r *CorrEventRepository) FindEligibleForItem(ctx context.Context, supItemID int64) (*domain.CorrEvent, error) {
	return r.getOne(ctx, fmt.Sprintf(
		"e.supitem_id = $1 AND NOT (%s AND c.ack = 'CLOSED') ORDER BY c.id DESC LIMIT 1",
		causeResolved,
	), supItemID)
}

// FindOpenAggregateForItem returns the open incident of an item.
func (r *CorrEventRepository) FindOpenAggregateForItem(ctx context.Context, supItemID int64) (*domain.CorrEvent, error) {
	return r.getOne(ctx, fmt.Sprintf(
		"e.supitem_id = $1 AND NOT %s AND c.ack <> 'CLOSED' ORDER BY c.id DESC LIMIT 1",
		causeResolved,
	), supItemID)
}

// getOne retrieves a single correlated event joined with its cause event.
func (r *CorrEventRepository) getOne(ctx context.Context, condition string, args ...any) (*domain.CorrEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM correvent c
		JOIN event e ON e.id = c.cause_id
		WHERE %s
	`, corrEventColumns, condition)

	ce, err := scanCorrEvent(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCorrEventNotFound
		}
		return nil, fmt.Errorf("failed to get correvent: %w", err)
	}

	return ce, nil
}

// AddEvent attaches a raw event to a correlated event.
func (r *CorrEventRepository) AddEvent(ctx context.Context, corrEventID, eventID int64) (bool, error) {
	query := `
		INSERT INTO eventsaggregate (correvent_id, event_id)
		SELECT id, $2 FROM correvent WHERE id = $1
		ON CONFLICT DO NOTHING
		RETURNING correvent_id
	`

	var id int64
	err := r.db.pool.QueryRow(ctx, query, corrEventID, eventID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to add event to correvent: %w", err)
	}

	// Nothing inserted: either a duplicate or a missing correvent.
	if _, err := r.GetByID(ctx, corrEventID); err != nil {
		return false, err
	}
	return false, nil
}

// RemoveEvent detaches a raw event from a correlated event.
func (r *CorrEventRepository) RemoveEvent(ctx context.Context, corrEventID, eventID int64) error {
	_, err := r.db.pool.Exec(ctx,
		`DELETE FROM eventsaggregate WHERE correvent_id = $1 AND event_id = $2`,
		corrEventID, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove event from correvent: %w", err)
	}
	return nil
}

// Members returns the raw event ids of a correlated event, sorted.
func (r *CorrEventRepository) Members(ctx context.Context, corrEventID int64) ([]int64, error) {
	if _, err := r.GetByID(ctx, corrEventID); err != nil {
		return nil, err
	}
	return r.queryIDs(ctx,
		`SELECT event_id FROM eventsaggregate WHERE correvent_id = $1 ORDER BY event_id`,
		corrEventID,
	)
}

// CorrEventsForEvent returns the correlated events a raw event belongs to, sorted.
func (r *CorrEventRepository) CorrEventsForEvent(ctx context.Context, eventID int64) ([]int64, error) {
	return r.queryIDs(ctx,
		`SELECT correvent_id FROM eventsaggregate WHERE event_id = $1 ORDER BY correvent_id`,
		eventID,
	)
}

func (r *CorrEventRepository) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ids: %w", err)
	}
	return ids, nil
}

// List retrieves correlated events matching the filter, newest first.
func (r *CorrEventRepository) List(ctx context.Context, filter domain.CorrEventFilter) ([]*domain.CorrEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM correvent c
		WHERE 1=1
	`, corrEventColumns)
	args := []any{}
	argNum := 1

	if filter.Ack != "" {
		query += fmt.Sprintf(" AND c.ack = $%d", argNum)
		args = append(args, string(filter.Ack))
		argNum++
	}

	query += " ORDER BY c.id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list correvents: %w", err)
	}
	defer rows.Close()

	var results []*domain.CorrEvent
	for rows.Next() {
		ce, err := scanCorrEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correvent: %w", err)
		}
		results = append(results, ce)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating correvents: %w", err)
	}

	return results, nil
}

// scanCorrEvent scans a single row into a CorrEvent.
func scanCorrEvent(row pgx.Row) (*domain.CorrEvent, error) {
	var ce domain.CorrEvent
	var ack string

	err := row.Scan(
		&ce.ID,
		&ce.CauseID,
		&ce.Priority,
		&ce.Occurrence,
		&ack,
		&ce.Timestamp,
		&ce.TroubleTicket,
		&ce.ImpactedHLS,
	)
	if err != nil {
		return nil, err
	}

	ce.Ack = domain.AckState(ack)
	if len(ce.ImpactedHLS) == 0 {
		ce.ImpactedHLS = nil
	}
	return &ce, nil
}

// hlsNames never returns nil so the NOT NULL column gets an empty array.
func hlsNames(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// nullableString returns nil if the string is empty, otherwise returns a pointer to it.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
