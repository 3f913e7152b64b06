package universe

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/events"
)

// DefaultSymbols is the universe a fresh installation starts with.
var DefaultSymbols = []string{"SPY", "QQQ", "IWM", "DIA", "XSP", "RUT", "NDX"}

// symbolPattern validates tickers: 1-6 uppercase letters or carets
// (index symbols like ^VIX appear with a caret prefix on some feeds).
var symbolPattern = regexp.MustCompile(`^[A-Z^]{1,6}$`)

// Listener receives the full symbol list after every mutation.
type Listener func(symbols []string)

// Store is the in-memory symbol universe with best-effort persistence.
// All mutations go through the store's own lock; listeners receive a copy.
type Store struct {
	mu        sync.Mutex
	symbols   []string
	listeners map[int]Listener
	nextID    int

	repo *Repository // optional; nil disables persistence
	bus  *events.Bus // optional
	log  zerolog.Logger
}

// NewStore creates a universe store, loading the persisted universe when one
// exists and falling back to the defaults otherwise.
func NewStore(repo *Repository, bus *events.Bus, log zerolog.Logger) *Store {
	s := &Store{
		listeners: make(map[int]Listener),
		repo:      repo,
		bus:       bus,
		log:       log.With().Str("component", "universe_store").Logger(),
	}

	s.symbols = append([]string(nil), DefaultSymbols...)
	if repo != nil {
		persisted, err := repo.Load()
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to load persisted universe, using defaults")
		} else if len(persisted) > 0 {
			s.symbols = persisted
		}
	}
	return s
}

// Valid reports whether sym is an acceptable ticker after normalization.
func Valid(sym string) bool {
	return symbolPattern.MatchString(strings.ToUpper(strings.TrimSpace(sym)))
}

// Get returns a copy of the current symbol list.
func (s *Store) Get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// Add inserts a ticker. Returns false when the ticker is invalid or already
// present.
func (s *Store) Add(sym string) bool {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if !symbolPattern.MatchString(sym) {
		s.log.Debug().Str("symbol", sym).Msg("Rejected invalid ticker")
		return false
	}

	s.mu.Lock()
	for _, existing := range s.symbols {
		if existing == sym {
			s.mu.Unlock()
			return false
		}
	}
	s.symbols = append(s.symbols, sym)
	snapshot := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	s.afterMutation(snapshot, "add", sym)
	return true
}

// Remove deletes a ticker. Returns false when it was not present.
func (s *Store) Remove(sym string) bool {
	sym = strings.ToUpper(strings.TrimSpace(sym))

	s.mu.Lock()
	idx := -1
	for i, existing := range s.symbols {
		if existing == sym {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.symbols = append(s.symbols[:idx], s.symbols[idx+1:]...)
	snapshot := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	s.afterMutation(snapshot, "remove", sym)
	return true
}

// Reset restores the default universe.
func (s *Store) Reset() {
	s.mu.Lock()
	s.symbols = append([]string(nil), DefaultSymbols...)
	snapshot := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	s.afterMutation(snapshot, "reset", "")
}

// Subscribe registers a listener and returns an unsubscribe function.
// Listeners are invoked synchronously after each mutation with a snapshot
// of the new list; a panicking listener is swallowed.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// afterMutation persists, notifies listeners, and publishes to the bus.
// Persistence is best-effort: a failed save logs a warning and the
// in-memory state stands.
func (s *Store) afterMutation(snapshot []string, action, sym string) {
	if s.repo != nil {
		if err := s.repo.Save(snapshot); err != nil {
			s.log.Warn().Err(err).Msg("Failed to persist symbol universe")
		}
	}

	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		s.notify(listener, append([]string(nil), snapshot...))
	}

	if s.bus != nil {
		s.bus.Publish(events.SymbolsChanged, "universe", &events.SymbolsChangedData{
			Symbols: snapshot,
			Action:  action,
			Symbol:  sym,
		})
	}
}

func (s *Store) notify(listener Listener, symbols []string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Interface("panic", r).Msg("Universe listener panicked")
		}
	}()
	listener(symbols)
}
