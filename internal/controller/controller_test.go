package controller

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"timeline_sync/internal/config"
	"timeline_sync/internal/domain"
	"timeline_sync/internal/events"
)

type sessionResult struct {
	res *domain.LoadResult
	err error
}

type fakeSession struct {
	req     domain.WindowRequest
	started chan context.Context
	result  chan sessionResult
}

func (f *fakeSession) Run(ctx context.Context) (*domain.LoadResult, error) {
	f.started <- ctx
	r := <-f.result
	return r.res, r.err
}

func (f *fakeSession) succeed(lastViewed *int64, entries ...domain.Entry) {
	f.result <- sessionResult{res: &domain.LoadResult{Entries: entries, LastViewedID: lastViewed}}
}

func (f *fakeSession) fail(err error) {
	f.result <- sessionResult{err: err}
}

type recordingView struct {
	mu        sync.Mutex
	busy      []bool
	changed   int
	scrolls   []int
	completes int
}

func (v *recordingView) SetBusy(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy = append(v.busy, b)
}

func (v *recordingView) CollectionChanged() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.changed++
}

func (v *recordingView) ScrollTo(row int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolls = append(v.scrolls, row)
}

func (v *recordingView) RefreshComplete() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.completes++
}

type viewState struct {
	busy      []bool
	changed   int
	scrolls   []int
	completes int
}

func (v *recordingView) snapshot() viewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return viewState{
		busy:      append([]bool(nil), v.busy...),
		changed:   v.changed,
		scrolls:   append([]int(nil), v.scrolls...),
		completes: v.completes,
	}
}

type ControllerTestSuite struct {
	suite.Suite

	mu       sync.Mutex
	sessions []*fakeSession

	bus    *events.Bus
	view   *recordingView
	cfg    config.TimelineConfig
	logger *slog.Logger
	ctrl   *Controller
	ctx    context.Context
}

func (s *ControllerTestSuite) SetupTest() {
	s.sessions = nil
	s.bus = events.NewBus()
	s.view = &recordingView{}
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.cfg = config.TimelineConfig{
		FeedKey:                "home",
		OwnerIDs:               []int64{1},
		RememberScrollPosition: true,
		ShowBusyIndicator:      true,
	}
	s.ctrl = New(s.newSession, s.bus, s.view, s.cfg, s.logger)
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func (s *ControllerTestSuite) newSession(req domain.WindowRequest) LoadSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &fakeSession{
		req:     req,
		started: make(chan context.Context, 1),
		result:  make(chan sessionResult, 1),
	}
	s.sessions = append(s.sessions, f)
	return f
}

func (s *ControllerTestSuite) session(i int) *fakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().Greater(len(s.sessions), i)
	return s.sessions[i]
}

func (s *ControllerTestSuite) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ControllerTestSuite) ids() []int64 {
	var out []int64
	for _, e := range s.ctrl.Snapshot() {
		out = append(out, e.ID)
	}
	return out
}

// startLoaded starts the controller and completes the initial reload with entries.
func (s *ControllerTestSuite) startLoaded(entries ...domain.Entry) {
	s.Require().NoError(s.ctrl.Start(s.ctx))
	s.session(0).succeed(nil, entries...)
	s.ctrl.Wait()
}

func ptr(v int64) *int64 { return &v }

func (s *ControllerTestSuite) TestEndToEnd_ReloadThenRemove() {
	s.Require().NoError(s.ctrl.Start(s.ctx))
	s.Equal(StateLoading, s.ctrl.State())

	first := s.session(0)
	s.True(first.req.Unbounded())
	s.Equal([]int64{1}, first.req.OwnerIDs)

	first.succeed(nil, domain.Entry{ID: 3}, domain.Entry{ID: 2}, domain.Entry{ID: 1})
	s.ctrl.Wait()

	s.Equal([]int64{3, 2, 1}, s.ids())
	s.Equal(StateIdle, s.ctrl.State())

	view := s.view.snapshot()
	s.Equal(1, view.changed)
	s.Equal(1, view.completes)
	s.Equal([]bool{true, false}, view.busy)

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 2, Flag: true})

	s.Equal([]int64{3, 1}, s.ids())
	s.Equal(2, s.view.snapshot().changed)
	s.Equal(1, s.sessionCount(), "removal must not start a load")
}

func (s *ControllerTestSuite) TestSupersession_OldResultDiscarded() {
	s.ctrl.Reload(s.ctx)
	a := s.session(0)
	ctxA := <-a.started

	s.ctrl.Reload(s.ctx)
	b := s.session(1)

	s.ErrorIs(ctxA.Err(), context.Canceled)

	a.succeed(nil, domain.Entry{ID: 99})
	b.succeed(nil, domain.Entry{ID: 2}, domain.Entry{ID: 1})
	s.ctrl.Wait()

	s.Equal([]int64{2, 1}, s.ids())
	view := s.view.snapshot()
	s.Equal(1, view.changed)
	s.Equal(1, view.completes)
}

func (s *ControllerTestSuite) TestSupersession_LateResultAfterNewerApplied() {
	s.ctrl.Reload(s.ctx)
	s.ctrl.Reload(s.ctx)

	s.session(1).succeed(nil, domain.Entry{ID: 5})
	s.session(0).succeed(nil, domain.Entry{ID: 42})
	s.ctrl.Wait()

	s.Equal([]int64{5}, s.ids())
	s.Equal(1, s.view.snapshot().changed)
	s.Equal(StateIdle, s.ctrl.State())
}

func (s *ControllerTestSuite) TestLoadFailure_LeavesCollectionIntact() {
	s.Require().NoError(s.ctrl.Restore([]domain.Entry{{ID: 5}, {ID: 4}}))

	s.ctrl.Reload(s.ctx)
	s.session(0).fail(errors.New("upstream unavailable"))
	s.ctrl.Wait()

	s.Equal([]int64{5, 4}, s.ids())
	s.Equal(StateIdle, s.ctrl.State())

	view := s.view.snapshot()
	s.Equal(1, view.changed, "only the restore changed the collection")
	s.Equal(1, view.completes)
	s.Equal([]bool{true, false}, view.busy)
}

func (s *ControllerTestSuite) TestPositionRestore() {
	s.ctrl.Reload(s.ctx)
	s.session(0).succeed(ptr(8), domain.Entry{ID: 9}, domain.Entry{ID: 8}, domain.Entry{ID: 7})
	s.ctrl.Wait()

	s.Equal([]int{1}, s.view.snapshot().scrolls)

	s.ctrl.Reload(s.ctx)
	s.session(1).succeed(ptr(42), domain.Entry{ID: 9}, domain.Entry{ID: 8}, domain.Entry{ID: 7})
	s.ctrl.Wait()

	s.Equal([]int{1}, s.view.snapshot().scrolls, "absent id must not scroll")
	s.Equal(2, s.view.snapshot().completes)
}

func (s *ControllerTestSuite) TestPositionRestore_Disabled() {
	s.cfg.RememberScrollPosition = false
	ctrl := New(s.newSession, s.bus, s.view, s.cfg, s.logger)

	ctrl.Reload(s.ctx)
	s.session(0).succeed(ptr(8), domain.Entry{ID: 9}, domain.Entry{ID: 8})
	ctrl.Wait()

	s.Empty(s.view.snapshot().scrolls)
}

func (s *ControllerTestSuite) TestBusyIndicatorDisabled() {
	s.cfg.ShowBusyIndicator = false
	ctrl := New(s.newSession, s.bus, s.view, s.cfg, s.logger)

	ctrl.Reload(s.ctx)
	s.session(0).succeed(nil, domain.Entry{ID: 1})
	ctrl.Wait()

	view := s.view.snapshot()
	s.Empty(view.busy)
	s.Equal(1, view.completes)
}

func (s *ControllerTestSuite) TestRequestPage_NewerAndOlder() {
	s.startLoaded(
		domain.Entry{ID: 100, OwnerID: 1},
		domain.Entry{ID: 90, OwnerID: 1, Text: "old"},
	)

	s.ctrl.RequestPage(s.ctx, Newer)
	newer := s.session(1)
	s.Require().NotNil(newer.req.SinceID)
	s.Equal(int64(100), *newer.req.SinceID)
	s.Nil(newer.req.MaxID)
	s.Equal([]int64{1}, newer.req.OwnerIDs)

	newer.succeed(nil, domain.Entry{ID: 110, OwnerID: 1}, domain.Entry{ID: 100, OwnerID: 1})
	s.ctrl.Wait()
	s.Equal([]int64{110, 100, 90}, s.ids())

	s.ctrl.RequestPage(s.ctx, Older)
	older := s.session(2)
	s.Require().NotNil(older.req.MaxID)
	s.Equal(int64(90), *older.req.MaxID)
	s.Nil(older.req.SinceID)

	older.succeed(nil, domain.Entry{ID: 90, OwnerID: 1, Text: "new"}, domain.Entry{ID: 80, OwnerID: 1})
	s.ctrl.Wait()
	s.Equal([]int64{110, 100, 90, 80}, s.ids())
	s.Equal("new", s.ctrl.Snapshot()[2].Text)
}

func (s *ControllerTestSuite) TestRequestPage_EmptyCollectionIsUnbounded() {
	s.cfg.OwnerIDs = []int64{1, 2}
	ctrl := New(s.newSession, s.bus, s.view, s.cfg, s.logger)

	ctrl.RequestPage(s.ctx, Older)
	req := s.session(0).req
	s.True(req.Unbounded())
	s.Equal([]int64{1, 2}, req.OwnerIDs)

	s.session(0).succeed(nil)
	ctrl.Wait()
}

func (s *ControllerTestSuite) TestFetch_MultiOwnerBoundsCollapse() {
	s.ctrl.Fetch(s.ctx, []int64{1, 2}, nil, []int64{100, 200})
	s.True(s.session(0).req.Unbounded())

	s.ctrl.Fetch(s.ctx, []int64{1}, nil, []int64{100})
	req := s.session(1).req
	s.Require().NotNil(req.SinceID)
	s.Equal(int64(100), *req.SinceID)

	s.session(0).succeed(nil)
	s.session(1).succeed(nil)
	s.ctrl.Wait()
}

func (s *ControllerTestSuite) TestEvents_IgnoredCombinations() {
	origin := ptr(5)
	s.startLoaded(domain.Entry{ID: 5}, domain.Entry{ID: 6, OriginID: origin}, domain.Entry{ID: 7})
	changed := s.view.snapshot().changed

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 5, Flag: false})
	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventRelationshipRevoked, TargetID: 5, Flag: true})
	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 0, Flag: true})
	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 404, Flag: true})

	s.Equal([]int64{5, 6, 7}, s.ids())
	s.Equal(changed, s.view.snapshot().changed)

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventRelationshipRevoked, TargetID: 5, Flag: false})

	s.Equal([]int64{7}, s.ids())
	s.Equal(changed+1, s.view.snapshot().changed)
}

func (s *ControllerTestSuite) TestEvents_OnlyWhileStarted() {
	s.Require().NoError(s.ctrl.Restore([]domain.Entry{{ID: 3}, {ID: 2}}))

	s.ctrl.HandleEvent(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 3, Flag: true})
	s.Equal([]int64{3, 2}, s.ids(), "not started yet")

	s.Require().NoError(s.ctrl.Start(s.ctx))
	s.Require().NoError(s.ctrl.Start(s.ctx))
	s.Equal(1, s.bus.Subscribers())

	s.Require().NoError(s.ctrl.Stop())
	s.Equal(0, s.bus.Subscribers())

	s.ctrl.HandleEvent(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 3, Flag: true})
	s.Equal([]int64{3, 2}, s.ids(), "stopped")

	s.Require().NoError(s.ctrl.Start(s.ctx))
	s.Equal(1, s.bus.Subscribers())
	s.Equal(1, s.sessionCount(), "only the first start reloads")

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 3, Flag: true})
	s.Equal([]int64{2}, s.ids())

	s.session(0).succeed(nil, domain.Entry{ID: 2})
	s.Require().NoError(s.ctrl.Close())
	s.Equal(0, s.bus.Subscribers())
}

func (s *ControllerTestSuite) TestRestore_RejectedAfterLoad() {
	s.startLoaded(domain.Entry{ID: 1})

	err := s.ctrl.Restore([]domain.Entry{{ID: 9}})
	s.ErrorIs(err, domain.ErrAlreadyLoaded)
	s.Equal([]int64{1}, s.ids())
}

func (s *ControllerTestSuite) TestClose_CancelsOutstandingSession() {
	s.ctrl.Reload(s.ctx)
	sess := s.session(0)
	ctx := <-sess.started

	go func() {
		<-ctx.Done()
		sess.fail(ctx.Err())
	}()

	s.Require().NoError(s.ctrl.Close())
	s.Empty(s.ids())
	s.Equal(1, s.view.snapshot().completes)
}

func (s *ControllerTestSuite) TestRemovalDuringLoad_NotRestoredByPage() {
	s.startLoaded(domain.Entry{ID: 3}, domain.Entry{ID: 2}, domain.Entry{ID: 1})

	s.ctrl.Reload(s.ctx)
	reload := s.session(1)
	<-reload.started

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 2, Flag: true})
	s.Equal([]int64{3, 1}, s.ids())

	reload.succeed(nil, domain.Entry{ID: 3}, domain.Entry{ID: 2}, domain.Entry{ID: 1})
	s.ctrl.Wait()

	s.Equal([]int64{3, 1}, s.ids())
}

func (s *ControllerTestSuite) TestRevokeDuringNewerPage_DropsReshares() {
	s.startLoaded(domain.Entry{ID: 10, OwnerID: 1})

	s.ctrl.RequestPage(s.ctx, Newer)
	newer := s.session(1)
	<-newer.started

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventRelationshipRevoked, TargetID: 7, Flag: false})

	newer.succeed(nil,
		domain.Entry{ID: 12, OwnerID: 1, OriginID: ptr(7)},
		domain.Entry{ID: 11, OwnerID: 1},
	)
	s.ctrl.Wait()

	s.Equal([]int64{11, 10}, s.ids())
}

func (s *ControllerTestSuite) TestRemovalBeforeLoad_DoesNotFilterNextPage() {
	s.startLoaded(domain.Entry{ID: 3}, domain.Entry{ID: 1})

	s.bus.Publish(domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 3, Flag: true})
	s.Equal([]int64{1}, s.ids())

	s.ctrl.Reload(s.ctx)
	s.session(1).succeed(nil, domain.Entry{ID: 3}, domain.Entry{ID: 1})
	s.ctrl.Wait()

	s.Equal([]int64{3, 1}, s.ids(), "a page fetched after the removal is authoritative")
}

func (s *ControllerTestSuite) TestBusyIndicator_NeverClearedForNewerSession() {
	for i := 0; i < 50; i++ {
		s.SetupTest()

		s.ctrl.Reload(s.ctx)
		s.session(0).succeed(nil, domain.Entry{ID: 1})
		s.ctrl.Reload(s.ctx)
		s.session(1).succeed(nil, domain.Entry{ID: 2})
		s.ctrl.Wait()

		busy := s.view.snapshot().busy
		s.Require().NotEmpty(busy)
		for j := 1; j < len(busy); j++ {
			s.False(!busy[j-1] && !busy[j], "busy cleared twice: %v", busy)
		}
		s.False(busy[len(busy)-1])
	}
}
