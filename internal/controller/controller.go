// Package controller keeps one feed's entry collection in step with an asynchronous loader
// and with removal events, and restores the viewing position after each reload.
//
// The controller is the only writer of its collection. Load completions and removal events
// arrive on their own goroutines and are applied under the controller mutex; readers get
// whole snapshots from the collection.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"timeline_sync/internal/config"
	"timeline_sync/internal/domain"
	"timeline_sync/internal/events"
	"timeline_sync/internal/metrics"
	"timeline_sync/internal/timeline"
)

type Direction int

const (
	Newer Direction = iota
	Older
)

func (d Direction) String() string {
	if d == Older {
		return "older"
	}
	return "newer"
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateApplying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateApplying:
		return "applying"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// LoadSession fetches one window. Run is called once, on its own goroutine.
type LoadSession interface {
	Run(ctx context.Context) (*domain.LoadResult, error)
}

// SessionFactory creates the session that serves a window request.
type SessionFactory func(req domain.WindowRequest) LoadSession

// View is the consumer of the collection. Its methods are called without the controller
// lock held and may read the controller back. SetBusy must not start a load.
type View interface {
	SetBusy(busy bool)
	CollectionChanged()
	ScrollTo(row int)
	RefreshComplete()
}

type Controller struct {
	newSession SessionFactory
	events     events.Source
	view       View
	cfg        config.TimelineConfig
	tracker    timeline.PositionTracker
	logger     *slog.Logger

	entries *timeline.Collection

	mu        sync.Mutex
	state     State
	sessionID uint64
	cancel    context.CancelFunc
	loaded    bool
	started   bool
	visible   bool
	subGen    uint64
	// removed holds removal targets seen while the current session runs.
	removed map[int64]struct{}

	// busyMu orders busy indicator transitions with session changes.
	busyMu sync.Mutex

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	sub       events.Subscription

	wg sync.WaitGroup
}

func New(
	newSession SessionFactory,
	source events.Source,
	view View,
	cfg config.TimelineConfig,
	logger *slog.Logger,
) *Controller {
	if view == nil {
		view = nopView{}
	}
	return &Controller{
		newSession: newSession,
		events:     source,
		view:       view,
		cfg:        cfg,
		tracker:    timeline.PositionTracker{Remember: cfg.RememberScrollPosition},
		logger:     logger.With("feed", cfg.FeedKey),
		entries:    timeline.NewCollection(nil),
	}
}

// Start subscribes to removal events. The first Start also issues the initial reload.
// Calling Start while already started is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.sub != nil {
		return nil
	}

	c.mu.Lock()
	c.subGen++
	gen := c.subGen
	c.mu.Unlock()

	sub, err := c.events.Subscribe(ctx, func(ev domain.RemovalEvent) {
		c.handleEvent(gen, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	c.sub = sub

	c.mu.Lock()
	c.visible = true
	first := !c.started
	c.started = true
	c.mu.Unlock()

	c.logger.Info("controller started", "initial_load", first)

	if first {
		c.Reload(ctx)
	}
	return nil
}

// Stop ends the event subscription. Events delivered afterwards are dropped.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	c.visible = false
	c.subGen++
	c.mu.Unlock()

	if c.sub == nil {
		return nil
	}
	sub := c.sub
	c.sub = nil

	c.logger.Info("controller stopped")

	if err := sub.Close(); err != nil {
		return fmt.Errorf("close subscription: %w", err)
	}
	return nil
}

// Close stops the controller, cancels the outstanding session and waits for it.
func (c *Controller) Close() error {
	err := c.Stop()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	return err
}

// Wait blocks until every started session has returned and been handled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Reload fetches the configured owners without bounds and replaces the collection.
func (c *Controller) Reload(ctx context.Context) {
	c.start(ctx, timeline.NewWindowRequest(c.cfg.OwnerIDs, nil, nil))
}

// RequestPage loads entries newer than the first or older than the last entry.
func (c *Controller) RequestPage(ctx context.Context, dir Direction) {
	var req domain.WindowRequest
	if dir == Older {
		req = timeline.OlderWindow(c.entries, c.cfg.OwnerIDs)
	} else {
		req = timeline.NewerWindow(c.entries, c.cfg.OwnerIDs)
	}
	c.start(ctx, req)
}

// Fetch starts a session for explicit per-owner bounds.
func (c *Controller) Fetch(ctx context.Context, ownerIDs, maxIDs, sinceIDs []int64) {
	c.start(ctx, timeline.NewWindowRequest(ownerIDs, maxIDs, sinceIDs))
}

// Refresh pulls newer entries. It lets the scheduler drive the controller.
func (c *Controller) Refresh(ctx context.Context) error {
	c.RequestPage(ctx, Newer)
	return nil
}

// HandleEvent applies a removal event delivered outside a subscription.
func (c *Controller) HandleEvent(ev domain.RemovalEvent) {
	c.mu.Lock()
	gen := c.subGen
	c.mu.Unlock()

	c.handleEvent(gen, ev)
}

// Restore seeds the collection from a saved snapshot. It is only allowed before the
// first load.
func (c *Controller) Restore(entries []domain.Entry) error {
	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		return domain.ErrAlreadyLoaded
	}
	c.entries.Replace(entries)
	size := c.entries.Len()
	c.mu.Unlock()

	metrics.CollectionSize.WithLabelValues(c.cfg.FeedKey).Set(float64(size))
	c.logger.Info("restored collection", "entries", size)

	if size > 0 {
		c.view.CollectionChanged()
	}
	return nil
}

// Snapshot returns the current entries in display order, for saving.
func (c *Controller) Snapshot() []domain.Entry {
	return c.entries.Snapshot()
}

// Entries is the collection the view reads from.
func (c *Controller) Entries() *timeline.Collection {
	return c.entries
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) start(ctx context.Context, req domain.WindowRequest) {
	sessionCtx, cancel := context.WithCancel(ctx)

	c.busyMu.Lock()
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.sessionID++
	id := c.sessionID
	c.cancel = cancel
	c.state = StateLoading
	c.loaded = true
	c.removed = nil
	c.wg.Add(1)
	c.mu.Unlock()

	if c.cfg.ShowBusyIndicator {
		c.view.SetBusy(true)
	}
	c.busyMu.Unlock()

	mode := req.Mode()
	metrics.SessionsStarted.WithLabelValues(mode.String()).Inc()
	c.logger.Debug("load session started",
		"session", id,
		"mode", mode.String(),
		"owners", req.OwnerIDs,
	)

	session := c.newSession(req)

	go func() {
		defer c.wg.Done()
		defer cancel()

		startTime := time.Now()
		res, err := session.Run(sessionCtx)
		metrics.LoadDuration.Observe(time.Since(startTime).Seconds())

		if err := c.complete(id, mode, res, err); err != nil && !errors.Is(err, domain.ErrStaleSession) {
			c.logger.Warn("load session failed", "session", id, "error", err)
		}
	}()
}

func (c *Controller) complete(id uint64, mode domain.MergeMode, res *domain.LoadResult, loadErr error) error {
	if loadErr == nil && res == nil {
		loadErr = errors.New("no result")
	}

	c.mu.Lock()
	if id != c.sessionID {
		c.mu.Unlock()
		metrics.SessionsCompleted.WithLabelValues("stale").Inc()
		c.logger.Debug("discarding superseded session result", "session", id)
		return domain.ErrStaleSession
	}
	c.cancel = nil

	if loadErr != nil {
		c.state = StateFailed
		c.mu.Unlock()

		metrics.SessionsCompleted.WithLabelValues("failed").Inc()
		c.finish(id)
		return fmt.Errorf("%w: %w", domain.ErrLoadFailed, loadErr)
	}

	c.state = StateApplying
	page := withoutRemoved(res.Entries, c.removed)
	c.removed = nil
	c.entries.Replace(timeline.Merge(c.entries.Snapshot(), page, mode))
	row, posErr := c.tracker.Restore(c.entries, res.LastViewedID)
	size := c.entries.Len()
	c.mu.Unlock()

	metrics.SessionsCompleted.WithLabelValues("applied").Inc()
	metrics.CollectionSize.WithLabelValues(c.cfg.FeedKey).Set(float64(size))
	c.logger.Debug("load session applied",
		"session", id,
		"mode", mode.String(),
		"fetched", len(page),
		"entries", size,
	)

	c.view.CollectionChanged()
	if posErr == nil {
		c.view.ScrollTo(row)
	}
	c.finish(id)
	return nil
}

func (c *Controller) finish(id uint64) {
	c.busyMu.Lock()
	c.mu.Lock()
	current := id == c.sessionID
	if current {
		c.state = StateIdle
	}
	c.mu.Unlock()

	// A newer session owns the busy indicator now.
	if current && c.cfg.ShowBusyIndicator {
		c.view.SetBusy(false)
	}
	c.busyMu.Unlock()

	c.view.RefreshComplete()
}

func (c *Controller) handleEvent(gen uint64, ev domain.RemovalEvent) {
	if err := ev.Validate(); err != nil {
		metrics.EventsIgnored.Inc()
		return
	}

	c.mu.Lock()
	if !c.visible || gen != c.subGen {
		c.mu.Unlock()
		metrics.EventsIgnored.Inc()
		return
	}
	if c.state == StateLoading {
		if c.removed == nil {
			c.removed = make(map[int64]struct{})
		}
		c.removed[ev.TargetID] = struct{}{}
	}
	removed := c.entries.RemoveMatching(ev.TargetID)
	size := c.entries.Len()
	c.mu.Unlock()

	if removed == 0 {
		return
	}

	metrics.EntriesRemoved.WithLabelValues(string(ev.Kind)).Add(float64(removed))
	metrics.CollectionSize.WithLabelValues(c.cfg.FeedKey).Set(float64(size))
	c.logger.Debug("removed entries",
		"kind", ev.Kind,
		"target_id", ev.TargetID,
		"removed", removed,
	)

	c.view.CollectionChanged()
}

// withoutRemoved drops page entries matching a target removed while the page was loading.
func withoutRemoved(page []domain.Entry, targets map[int64]struct{}) []domain.Entry {
	if len(targets) == 0 {
		return page
	}
	kept := make([]domain.Entry, 0, len(page))
	for _, e := range page {
		if !matchesAny(e, targets) {
			kept = append(kept, e)
		}
	}
	return kept
}

func matchesAny(e domain.Entry, targets map[int64]struct{}) bool {
	for t := range targets {
		if e.Matches(t) {
			return true
		}
	}
	return false
}

type nopView struct{}

func (nopView) SetBusy(bool)       {}
func (nopView) CollectionChanged() {}
func (nopView) ScrollTo(int)       {}
func (nopView) RefreshComplete()   {}
