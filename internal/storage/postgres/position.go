package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"timeline_sync/internal/domain"
)

type PositionStore struct {
	db *sqlx.DB
}

func NewPositionStore(db *sqlx.DB) *PositionStore {
	return &PositionStore{db: db}
}

func (s *PositionStore) Get(ctx context.Context, feedKey string) (*domain.Position, error) {
	var pos domain.Position
	query := `
		SELECT id, feed_key, last_viewed_id, updated_at
		FROM timeline_positions
		WHERE feed_key = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &pos, query, feedKey)
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing viewed yet.
		return &domain.Position{FeedKey: feedKey}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (s *PositionStore) Update(ctx context.Context, pos *domain.Position) error {
	query := `
		INSERT INTO timeline_positions (feed_key, last_viewed_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (feed_key) DO UPDATE SET
			last_viewed_id = EXCLUDED.last_viewed_id,
			updated_at = EXCLUDED.updated_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		pos.FeedKey,
		pos.LastViewedID,
		pos.UpdatedAt,
	)
	return err
}
