package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"timeline_sync/internal/domain"
)

type EntryStore struct {
	db *sqlx.DB
}

func NewEntryStore(db *sqlx.DB) *EntryStore {
	return &EntryStore{db: db}
}

// FetchWindow returns entries of the requested owners strictly between the bounds,
// newest first.
func (s *EntryStore) FetchWindow(ctx context.Context, req domain.WindowRequest, limit int) ([]domain.Entry, error) {
	if len(req.OwnerIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, origin_id, owner_id, author, text, created_at
		FROM entries
		WHERE owner_id = ANY($1)
			AND ($2::bigint IS NULL OR id > $2)
			AND ($3::bigint IS NULL OR id < $3)
		ORDER BY id DESC
		LIMIT $4`

	var entries []domain.Entry
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &entries, query,
		pq.Array(req.OwnerIDs),
		req.SinceID,
		req.MaxID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}

	return entries, nil
}

// Upsert inserts or overwrites an entry by id.
func (s *EntryStore) Upsert(ctx context.Context, entry *domain.Entry) error {
	query := `
		INSERT INTO entries (id, origin_id, owner_id, author, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			origin_id = EXCLUDED.origin_id,
			owner_id = EXCLUDED.owner_id,
			author = EXCLUDED.author,
			text = EXCLUDED.text,
			created_at = EXCLUDED.created_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		entry.ID,
		entry.OriginID,
		entry.OwnerID,
		entry.Author,
		entry.Text,
		entry.CreatedAt,
	)
	return err
}

// Delete removes an entry and every re-share of it, returning the number of rows removed.
func (s *EntryStore) Delete(ctx context.Context, id int64) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM entries WHERE id = $1 OR origin_id = $1",
		id,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
