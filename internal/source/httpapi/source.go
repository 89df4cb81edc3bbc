package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"timeline_sync/internal/domain"
)

// Config holds timeline API configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source reads timeline windows from a remote HTTP API.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new HTTP timeline source.
func New(cfg Config, logger *slog.Logger) *Source {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", "http"),
	}
}

// FetchWindow fetches one window, retrying failed requests with exponential backoff.
func (s *Source) FetchWindow(ctx context.Context, req domain.WindowRequest, limit int) ([]domain.Entry, error) {
	u, err := s.windowURL(req, limit)
	if err != nil {
		return nil, err
	}

	var resp *APIResponse

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err = s.doRequest(ctx, u)
		if err == nil {
			return s.transform(resp.Entries), nil
		}

		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", s.maxAttempts, err)
}

func (s *Source) windowURL(req domain.WindowRequest, limit int) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	q := u.Query()
	for _, id := range req.OwnerIDs {
		q.Add("owner_id", strconv.FormatInt(id, 10))
	}
	if req.SinceID != nil {
		q.Set("since_id", strconv.FormatInt(*req.SinceID, 10))
	}
	if req.MaxID != nil {
		q.Set("max_id", strconv.FormatInt(*req.MaxID, 10))
	}
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *Source) doRequest(ctx context.Context, rawURL string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "TimelineSync/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var apiResp APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &apiResp, nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

func (s *Source) transform(items []APIEntry) []domain.Entry {
	entries := make([]domain.Entry, 0, len(items))

	for _, item := range items {
		if item.ID <= 0 {
			s.logger.Warn("skipping entry without id", "owner_id", item.OwnerID)
			continue
		}

		entry := domain.Entry{
			ID:       item.ID,
			OriginID: item.OriginID,
			OwnerID:  item.OwnerID,
			Author:   item.Author,
			Text:     item.Text,
		}

		if item.CreatedAt != "" {
			createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
			if err != nil {
				s.logger.Warn("failed to parse date",
					"id", item.ID,
					"date", item.CreatedAt,
				)
			} else {
				entry.CreatedAt = createdAt
			}
		}

		entries = append(entries, entry)
	}

	return entries
}
