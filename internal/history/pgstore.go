package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/model"
)

// PGStore is a PostgreSQL-backed Store using pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a postgres history store from the history
// configuration. The DSN is read from the configured environment variable.
func NewPGStore(ctx context.Context, dsn string, cfg config.HistoryConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// HealthCheck pings the database. Used by the readiness endpoint.
func (s *PGStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts an event row.
func (s *PGStore) Append(ctx context.Context, event model.SubmissionEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submission_events (id, session_id, tenant, step_id, event, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.SessionID, event.Tenant, event.StepID, event.Event, event.Detail, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("history: insert event: %w", err)
	}
	return nil
}

// List returns a session's events in append order, scoped to tenant.
func (s *PGStore) List(ctx context.Context, tenant, sessionID string) ([]model.SubmissionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, tenant, step_id, event, detail, created_at
		FROM submission_events
		WHERE tenant = $1 AND session_id = $2
		ORDER BY created_at ASC`,
		tenant, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query events: %w", err)
	}
	defer rows.Close()

	var events []model.SubmissionEvent
	for rows.Next() {
		var e model.SubmissionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tenant, &e.StepID, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("history: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate events: %w", err)
	}
	return events, nil
}
