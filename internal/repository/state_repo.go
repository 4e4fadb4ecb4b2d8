package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fluid-project/personal-data-server/internal/domain/sso"
)

// PostgresStateTracker implements StateTracker on the referer_tracker table.
type PostgresStateTracker struct {
	db DBTX
}

var _ StateTracker = (*PostgresStateTracker)(nil)

func NewPostgresStateTracker(gw *Gateway) *PostgresStateTracker {
	return &PostgresStateTracker{db: gw.DB()}
}

const insertStateSQL = `INSERT INTO referer_tracker (state, provider, referer_origin, referer_url, created_at)
VALUES ($1, $2, $3, $4, $5)`

// Track stores the record. Expiry is enforced by the caller on consume, so ttl is unused here.
func (s *PostgresStateTracker) Track(ctx context.Context, record sso.StateRecord, _ time.Duration) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, insertStateSQL,
		record.State,
		record.Provider,
		record.RefererOrigin,
		record.RefererURL,
		createdAt,
	); err != nil {
		return fmt.Errorf("track state: %w", err)
	}
	return nil
}

const consumeStateSQL = `DELETE FROM referer_tracker
WHERE state = $1
RETURNING state, provider, referer_origin, referer_url, created_at`

// Consume deletes the record and returns what was deleted. Concurrent callers race on the
// row lock; only one sees it.
func (s *PostgresStateTracker) Consume(ctx context.Context, state string) (*sso.StateRecord, error) {
	var rec sso.StateRecord
	err := s.db.QueryRow(ctx, consumeStateSQL, state).Scan(
		&rec.State,
		&rec.Provider,
		&rec.RefererOrigin,
		&rec.RefererURL,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	return &rec, nil
}

const purgeStatesSQL = `DELETE FROM referer_tracker WHERE created_at < $1`

// PurgeBefore drops records abandoned before cutoff and returns how many were removed.
func (s *PostgresStateTracker) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeStatesSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge states: %w", err)
	}
	return tag.RowsAffected(), nil
}
