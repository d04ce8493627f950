package store

import (
	"sort"
	"sync"

	"marketref/internal/market"
)

// Store holds the latest parsed snapshot per stock source plus the single
// active rate snapshot. It is the only shared mutable state in the
// process. Writers swap whole slices and maps; readers copy references
// under RLock, so a slow parse or fetch never holds up a query and a
// query never observes a half-replaced source.
type Store struct {
	mu     sync.RWMutex
	stocks map[string][]market.StockRecord // key: source file name
	rates  market.RateSnapshot
	loaded bool // true once a rate snapshot has been committed
}

func New() *Store {
	return &Store{stocks: make(map[string][]market.StockRecord)}
}

// ReplaceStocks atomically swaps the record list for one source. Other
// sources are untouched.
func (s *Store) ReplaceStocks(source string, records []market.StockRecord) {
	s.mu.Lock()
	s.stocks[source] = records
	s.mu.Unlock()
}

// ReplaceRates atomically swaps the active rate snapshot.
func (s *Store) ReplaceRates(snap market.RateSnapshot) {
	s.mu.Lock()
	s.rates = snap
	s.loaded = true
	s.mu.Unlock()
}

// AllStocks returns a flattened view across all sources taken at a single
// point in time. Sources are walked in sorted name order; within a source
// the file order is preserved. The returned slice is owned by the caller.
func (s *Store) AllStocks() []market.StockRecord {
	s.mu.RLock()
	names := make([]string, 0, len(s.stocks))
	total := 0
	for name, recs := range s.stocks {
		names = append(names, name)
		total += len(recs)
	}
	sort.Strings(names)
	out := make([]market.StockRecord, 0, total)
	for _, name := range names {
		out = append(out, s.stocks[name]...)
	}
	s.mu.RUnlock()
	return out
}

// Rates returns the active snapshot. ok is false when no rates file has
// been loaded yet.
func (s *Store) Rates() (snap market.RateSnapshot, ok bool) {
	s.mu.RLock()
	snap, ok = s.rates, s.loaded
	s.mu.RUnlock()
	return snap, ok
}

// Sources lists the stock sources currently loaded, sorted by name.
func (s *Store) Sources() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.stocks))
	for name := range s.stocks {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
