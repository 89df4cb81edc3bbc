package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"timeline_sync/internal/config"
	"timeline_sync/internal/domain"
	"timeline_sync/internal/timeline"
)

// Loader serves load sessions for one feed.
type Loader struct {
	source    EntrySource
	positions PositionStore
	txManager TransactionManager
	logger    *slog.Logger
	config    config.TimelineConfig
}

func NewLoader(
	source EntrySource,
	positions PositionStore,
	txManager TransactionManager,
	logger *slog.Logger,
	cfg config.TimelineConfig,
) *Loader {
	return &Loader{
		source:    source,
		positions: positions,
		txManager: txManager,
		logger:    logger.With("feed", cfg.FeedKey),
		config:    cfg,
	}
}

// Session is one window fetch.
type Session struct {
	loader *Loader
	req    domain.WindowRequest
}

func (l *Loader) NewSession(req domain.WindowRequest) *Session {
	return &Session{loader: l, req: req}
}

func (s *Session) Run(ctx context.Context) (*domain.LoadResult, error) {
	return s.loader.Load(ctx, s.req)
}

// Load fetches the page and the feed's position marker in one transaction.
func (l *Loader) Load(ctx context.Context, req domain.WindowRequest) (*domain.LoadResult, error) {
	if l.config.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.LoadTimeout)
		defer cancel()
	}

	startTime := time.Now()
	var result domain.LoadResult

	err := l.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := l.source.FetchWindow(txCtx, req, l.config.PageSize)
		if err != nil {
			return fmt.Errorf("fetch window: %w", err)
		}

		pos, err := l.positions.Get(txCtx, l.config.FeedKey)
		if err != nil {
			return fmt.Errorf("get position: %w", err)
		}

		result.Entries = timeline.Dedupe(validOnly(entries))
		if pos != nil && pos.LastViewedID > 0 {
			id := pos.LastViewedID
			result.LastViewedID = &id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loaded window",
		"mode", req.Mode().String(),
		"owners", req.OwnerIDs,
		"count", len(result.Entries),
		"duration", time.Since(startTime),
	)

	return &result, nil
}

// RecordPosition stores the last viewed entry for the feed.
func (l *Loader) RecordPosition(ctx context.Context, lastViewedID int64) error {
	if lastViewedID <= 0 {
		return fmt.Errorf("invalid last viewed id %d", lastViewedID)
	}

	err := l.positions.Update(ctx, &domain.Position{
		FeedKey:      l.config.FeedKey,
		LastViewedID: lastViewedID,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

func validOnly(entries []domain.Entry) []domain.Entry {
	kept := entries[:0:0]
	for _, e := range entries {
		if e.Valid() {
			kept = append(kept, e)
		}
	}
	return kept
}
