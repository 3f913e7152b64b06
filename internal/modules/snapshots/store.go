// Package snapshots holds the latest dashboard snapshot, refreshes it behind
// a single-flight guard and persists it across restarts.
package snapshots

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/events"
)

// DefaultRefreshInterval is how long a snapshot stays fresh for non-forced
// refreshes.
const DefaultRefreshInterval = 90 * time.Second

// RefreshOptions controls one refresh request.
type RefreshOptions struct {
	Force    bool
	HomeOnly bool
}

// Store owns the latest snapshot. The snapshot value is immutable once
// published; refreshes swap in a new value atomically.
type Store struct {
	refresher Refresher
	repo      *Repository // nil disables persistence
	bus       *events.Bus
	interval  time.Duration
	log       zerolog.Logger

	group singleflight.Group

	mu                   sync.RWMutex
	snapshot             *domain.Snapshot
	lastRefreshStartedAt time.Time
	inFlight             *refreshRun
	listeners            []Listener
}

// refreshRun identifies one in-flight refresh so a finished run clears only
// its own cancel handle, never one installed by a run that preempted it.
type refreshRun struct {
	cancel context.CancelFunc
}

// Listener receives every published snapshot.
type Listener func(*domain.Snapshot)

// NewStore creates a snapshot store. repo and bus may be nil. When repo holds
// a persisted snapshot it is loaded immediately so the first read serves the
// last good dashboard.
func NewStore(refresher Refresher, repo *Repository, bus *events.Bus, interval time.Duration, log zerolog.Logger) *Store {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	s := &Store{
		refresher: refresher,
		repo:      repo,
		bus:       bus,
		interval:  interval,
		log:       log.With().Str("module", "snapshots").Logger(),
	}

	if repo != nil {
		snapshot, err := repo.Load()
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to load persisted snapshot")
		} else if snapshot != nil {
			s.snapshot = snapshot
			s.log.Info().Bool("partial", snapshot.Meta.Partial).Msg("Restored persisted snapshot")
		}
	}
	return s
}

// GetSnapshot returns the latest published snapshot, nil before the first
// refresh.
func (s *Store) GetSnapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SetSnapshot publishes a snapshot directly. Used by restore tooling and
// tests.
func (s *Store) SetSnapshot(snapshot *domain.Snapshot) {
	s.publish(snapshot)
}

// Subscribe registers a listener invoked with every published snapshot and
// returns an unsubscribe function. When a snapshot is already cached the
// listener receives it immediately.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	cached := s.snapshot
	s.mu.Unlock()

	if cached != nil {
		fn(cached)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.listeners) {
			s.listeners[idx] = nil
		}
	}
}

// RefreshSilent refreshes the snapshot unless it is still fresh. Concurrent
// non-forced callers coalesce onto one in-flight refresh and all receive the
// same snapshot value. Force skips both the freshness check and coalescing.
func (s *Store) RefreshSilent(ctx context.Context, opts RefreshOptions) *domain.Snapshot {
	if !opts.Force {
		s.mu.RLock()
		fresh := s.snapshot != nil && time.Since(s.lastRefreshStartedAt) < s.interval
		cached := s.snapshot
		s.mu.RUnlock()
		if fresh {
			return cached
		}

		value, _, _ := s.group.Do("refresh", func() (interface{}, error) {
			return s.runRefresh(opts.HomeOnly, false), nil
		})
		return value.(*domain.Snapshot)
	}
	return s.runRefresh(opts.HomeOnly, false)
}

// RefreshNow always starts a new refresh. A running refresh is cancelled
// cooperatively and replaced.
func (s *Store) RefreshNow(ctx context.Context, homeOnly bool) *domain.Snapshot {
	return s.runRefresh(homeOnly, true)
}

// runRefresh executes one refresh end to end and publishes the result. The
// refresh runs on its own context so a single caller's disconnect cannot kill
// a coalesced refresh; preempt additionally cancels any in-flight run first.
func (s *Store) runRefresh(homeOnly, preempt bool) *domain.Snapshot {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := &refreshRun{cancel: cancel}

	s.mu.Lock()
	if preempt && s.inFlight != nil {
		s.inFlight.cancel()
	}
	s.inFlight = run
	s.lastRefreshStartedAt = time.Now()
	prev := s.snapshot
	s.mu.Unlock()

	started := time.Now()
	next := s.refresher.Refresh(runCtx, prev, homeOnly)

	s.mu.Lock()
	if s.inFlight == run {
		// A preempting run may have installed its own handle by now.
		s.inFlight = nil
	}
	s.mu.Unlock()

	s.publish(next)
	s.log.Info().
		Bool("partial", next.Meta.Partial).
		Bool("home_only", homeOnly).
		Int("errors", len(next.Meta.Errors)).
		Dur("duration", time.Since(started)).
		Msg("Snapshot refreshed")
	return next
}

// publish swaps the snapshot in atomically, persists it and notifies
// listeners.
func (s *Store) publish(snapshot *domain.Snapshot) {
	s.mu.Lock()
	s.snapshot = snapshot
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if s.repo != nil && snapshot != nil {
		if err := s.repo.Save(snapshot); err != nil {
			s.log.Warn().Err(err).Msg("Failed to persist snapshot")
		}
	}

	if s.bus != nil && snapshot != nil {
		s.bus.Publish(events.SnapshotUpdated, "snapshots", events.SnapshotUpdatedData{
			Partial:       snapshot.Meta.Partial,
			ErrorCount:    len(snapshot.Meta.Errors),
			Opportunities: len(snapshot.Data.Opportunities),
			LastSuccessAt: snapshot.Meta.LastSuccessAt,
		})
	}

	if snapshot != nil {
		for _, listener := range listeners {
			if listener != nil {
				listener(snapshot)
			}
		}
	}
}
