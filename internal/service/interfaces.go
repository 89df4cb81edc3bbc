package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"timeline_sync/internal/domain"
)

// EntrySource returns at most limit entries of a window, newest first.
type EntrySource interface {
	FetchWindow(ctx context.Context, req domain.WindowRequest, limit int) ([]domain.Entry, error)
}

type PositionStore interface {
	Get(ctx context.Context, feedKey string) (*domain.Position, error)
	Update(ctx context.Context, pos *domain.Position) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
