// Package postgres provides PostgreSQL-based implementations of the store interfaces.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"correlator/internal/config"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// RunMigrations creates the required database tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS supitem (
			id BIGSERIAL PRIMARY KEY,
			host VARCHAR(255) NOT NULL,
			service VARCHAR(255) NOT NULL DEFAULT '',
			UNIQUE (host, service)
		);

		CREATE TABLE IF NOT EXISTS event (
			id BIGSERIAL PRIMARY KEY,
			supitem_id BIGINT NOT NULL REFERENCES supitem(id),
			current_state VARCHAR(20) NOT NULL,
			initial_state VARCHAR(20) NOT NULL,
			peak_state VARCHAR(20) NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_event_supitem ON event(supitem_id, id DESC);

		CREATE TABLE IF NOT EXISTS correvent (
			id BIGSERIAL PRIMARY KEY,
			cause_id BIGINT NOT NULL REFERENCES event(id),
			priority INTEGER NOT NULL,
			occurrence INTEGER NOT NULL DEFAULT 1,
			ack VARCHAR(10) NOT NULL DEFAULT 'NONE',
			timestamp_active TIMESTAMP WITH TIME ZONE NOT NULL,
			trouble_ticket VARCHAR(255),
			impacted_hls TEXT[] NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_correvent_cause ON correvent(cause_id);
		CREATE INDEX IF NOT EXISTS idx_correvent_ack ON correvent(ack);

		CREATE TABLE IF NOT EXISTS eventsaggregate (
			correvent_id BIGINT NOT NULL REFERENCES correvent(id) ON DELETE CASCADE,
			event_id BIGINT NOT NULL REFERENCES event(id),
			PRIMARY KEY (correvent_id, event_id)
		);

		CREATE INDEX IF NOT EXISTS idx_eventsaggregate_event ON eventsaggregate(event_id);

		CREATE TABLE IF NOT EXISTS history (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL REFERENCES event(id),
			type VARCHAR(64) NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			username VARCHAR(255) NOT NULL DEFAULT '',
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_event ON history(event_id);
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
