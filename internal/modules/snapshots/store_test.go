package snapshots

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentrade/bentrade/internal/database"
	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/events"
)

// fakeRefresher scripts refresh outcomes and counts invocations.
type fakeRefresher struct {
	calls int32
	delay time.Duration
	build func(ctx context.Context, prev *domain.Snapshot, homeOnly bool) *domain.Snapshot
}

func (f *fakeRefresher) Refresh(ctx context.Context, prev *domain.Snapshot, homeOnly bool) *domain.Snapshot {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &domain.Snapshot{Meta: domain.SnapshotMeta{Errors: []string{"cancelled"}, Partial: true}}
		}
	}
	if f.build != nil {
		return f.build(ctx, prev, homeOnly)
	}
	return &domain.Snapshot{Meta: domain.SnapshotMeta{Errors: []string{}}}
}

func (f *fakeRefresher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func testStore(refresher Refresher, interval time.Duration) *Store {
	return NewStore(refresher, nil, events.NewBus(zerolog.Nop()), interval, zerolog.Nop())
}

func TestRefreshSilentCoalescesConcurrentCallers(t *testing.T) {
	f := &fakeRefresher{delay: 100 * time.Millisecond}
	s := testStore(f, time.Hour)

	var wg sync.WaitGroup
	results := make([]*domain.Snapshot, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.RefreshSilent(context.Background(), RefreshOptions{})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.callCount(), "exactly one fan-out for coalesced callers")
	assert.Same(t, results[0], results[1])
	assert.Same(t, results[1], results[2])
}

func TestRefreshSilentServesFreshSnapshot(t *testing.T) {
	f := &fakeRefresher{}
	s := testStore(f, time.Hour)

	first := s.RefreshSilent(context.Background(), RefreshOptions{})
	second := s.RefreshSilent(context.Background(), RefreshOptions{})

	assert.Equal(t, 1, f.callCount(), "a fresh snapshot skips the refresh")
	assert.Same(t, first, second)
}

func TestRefreshSilentForceBypassesFreshness(t *testing.T) {
	f := &fakeRefresher{}
	s := testStore(f, time.Hour)

	s.RefreshSilent(context.Background(), RefreshOptions{})
	s.RefreshSilent(context.Background(), RefreshOptions{Force: true})

	assert.Equal(t, 2, f.callCount())
}

func TestRefreshSilentRefreshesStaleSnapshot(t *testing.T) {
	f := &fakeRefresher{}
	s := testStore(f, time.Millisecond)

	s.RefreshSilent(context.Background(), RefreshOptions{})
	time.Sleep(5 * time.Millisecond)
	s.RefreshSilent(context.Background(), RefreshOptions{})

	assert.Equal(t, 2, f.callCount())
}

func TestRefreshNowCancelsInFlightRun(t *testing.T) {
	started := make(chan struct{}, 1)
	cancelled := make(chan struct{})
	f := &fakeRefresher{}
	f.build = func(ctx context.Context, prev *domain.Snapshot, homeOnly bool) *domain.Snapshot {
		if atomic.LoadInt32(&f.calls) == 1 {
			started <- struct{}{}
			select {
			case <-ctx.Done():
				close(cancelled)
			case <-time.After(5 * time.Second):
			}
		}
		return &domain.Snapshot{}
	}
	s := testStore(f, time.Hour)

	go s.RefreshNow(context.Background(), false)
	<-started
	s.RefreshNow(context.Background(), false)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("first refresh was not cancelled")
	}
}

func TestRefreshNowCancellableAfterPreemptedRunReturns(t *testing.T) {
	started := make(chan int32, 3)
	cancelled := make(chan int32, 3)
	f := &fakeRefresher{}
	f.build = func(ctx context.Context, prev *domain.Snapshot, homeOnly bool) *domain.Snapshot {
		n := atomic.LoadInt32(&f.calls)
		started <- n
		if n <= 2 {
			select {
			case <-ctx.Done():
				cancelled <- n
			case <-time.After(5 * time.Second):
			}
		}
		return &domain.Snapshot{}
	}
	s := testStore(f, time.Hour)

	firstDone := make(chan struct{})
	go func() {
		s.RefreshNow(context.Background(), false)
		close(firstDone)
	}()
	<-started

	go s.RefreshNow(context.Background(), false)
	<-started

	select {
	case n := <-cancelled:
		require.Equal(t, int32(1), n)
	case <-time.After(time.Second):
		t.Fatal("first refresh was not cancelled")
	}
	// The preempted run returns while the second is still in flight. Its
	// cleanup must leave the second run's cancel handle in place.
	<-firstDone

	go s.RefreshNow(context.Background(), false)
	select {
	case n := <-cancelled:
		assert.Equal(t, int32(2), n)
	case <-time.After(time.Second):
		t.Fatal("second refresh could not be cancelled after the preempted run returned")
	}
}

func TestSubscribeReceivesPublishedSnapshots(t *testing.T) {
	f := &fakeRefresher{}
	s := testStore(f, time.Hour)

	var received []*domain.Snapshot
	unsubscribe := s.Subscribe(func(snap *domain.Snapshot) { received = append(received, snap) })

	assert.Empty(t, received, "nothing cached yet")

	snap := s.RefreshSilent(context.Background(), RefreshOptions{})
	require.Len(t, received, 1)
	assert.Same(t, snap, received[0])

	unsubscribe()
	s.RefreshSilent(context.Background(), RefreshOptions{Force: true})
	assert.Len(t, received, 1, "an unsubscribed listener hears nothing more")
}

func TestSubscribeReplaysCachedSnapshot(t *testing.T) {
	f := &fakeRefresher{}
	s := testStore(f, time.Hour)
	snap := s.RefreshSilent(context.Background(), RefreshOptions{})

	var received []*domain.Snapshot
	s.Subscribe(func(got *domain.Snapshot) { received = append(received, got) })

	require.Len(t, received, 1, "a late subscriber receives the cached snapshot immediately")
	assert.Same(t, snap, received[0])
}

func TestGetSnapshotBeforeFirstRefresh(t *testing.T) {
	s := testStore(&fakeRefresher{}, time.Hour)
	assert.Nil(t, s.GetSnapshot())
}

func testRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:   fmt.Sprintf("file:cache_%s?mode=memory&cache=shared", t.Name()),
		Name:   "cache",
		Schema: Schema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db.Conn())
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := testRepository(t)

	at := time.Date(2026, 5, 2, 15, 30, 0, 0, time.UTC)
	snapshot := &domain.Snapshot{
		Data: domain.SnapshotData{
			Regime: &domain.Regime{Label: domain.RegimeRiskOn, Score: 72.5},
			Opportunities: []domain.Opportunity{
				{Symbol: "SPY", Strategy: "credit_put", Score: 81.2, TradeKey: "SPY|NA|credit_put|NA|NA|NA"},
			},
			Sectors: map[string]float64{"XLK": 1.2},
		},
		Meta: domain.SnapshotMeta{
			LastSuccessAt: &at,
			Errors:        []string{},
			Partial:       false,
		},
	}

	require.NoError(t, repo.Save(snapshot))
	loaded, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, snapshot, loaded, "snapshot survives the msgpack round trip by value")
}

func TestRepositoryLoadEmpty(t *testing.T) {
	repo := testRepository(t)
	loaded, err := repo.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRepositorySaveOverwrites(t *testing.T) {
	repo := testRepository(t)

	require.NoError(t, repo.Save(&domain.Snapshot{Meta: domain.SnapshotMeta{Partial: true, Errors: []string{"x"}}}))
	require.NoError(t, repo.Save(&domain.Snapshot{Meta: domain.SnapshotMeta{Errors: []string{}}}))

	loaded, err := repo.Load()
	require.NoError(t, err)
	assert.False(t, loaded.Meta.Partial, "second save replaced the first")
}

func TestNewStoreRestoresPersistedSnapshot(t *testing.T) {
	repo := testRepository(t)
	require.NoError(t, repo.Save(&domain.Snapshot{Meta: domain.SnapshotMeta{Partial: true, Errors: []string{"stale"}}}))

	s := NewStore(&fakeRefresher{}, repo, nil, time.Hour, zerolog.Nop())

	snap := s.GetSnapshot()
	require.NotNil(t, snap, "the persisted snapshot is served before any refresh")
	assert.True(t, snap.Meta.Partial)
}
