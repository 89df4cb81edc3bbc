// Package redisstore persists the controller's collection between runs.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"timeline_sync/internal/domain"
)

// snapshot is the stored form of a saved collection.
type snapshot struct {
	Entries []domain.Entry `json:"entries"`
	SavedAt time.Time      `json:"saved_at"`
}

// SnapshotStore keeps one ordered entry list per feed key.
type SnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore connects to redisURL and checks the connection.
func NewSnapshotStore(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*SnapshotStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	store := NewSnapshotStoreWithClient(redis.NewClient(opts), prefix, ttl)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return store, nil
}

func NewSnapshotStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *SnapshotStore) key(feedKey string) string {
	return s.prefix + feedKey
}

// Save stores entries in order. A zero ttl keeps the snapshot until overwritten.
func (s *SnapshotStore) Save(ctx context.Context, feedKey string, entries []domain.Entry) error {
	data, err := json.Marshal(snapshot{Entries: entries, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key(feedKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the saved entries, or nil when nothing was saved.
func (s *SnapshotStore) Load(ctx context.Context, feedKey string) ([]domain.Entry, error) {
	data, err := s.client.Get(ctx, s.key(feedKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap.Entries, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, feedKey string) error {
	if err := s.client.Del(ctx, s.key(feedKey)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
