// Package values implements the per-container Value Store: a typed
// map holding either a default-pending marker or an explicit value,
// with a journal-append hook for persistence (spec.md §4.1).
package values

import (
	"sort"
	"sync"

	"github.com/cuemby/portod/pkg/registry"
)

// JournalFunc appends one (key, raw) record to the container's
// persistent node. Container wires it to nodestore.Append.
type JournalFunc func(key, raw string) error

// Store holds the explicitly-set properties of a single container.
// Values not present here are "default-pending": resolved by the
// owning container via the registry's inheritance/default rules, not
// by the Store itself.
type Store struct {
	mu      sync.RWMutex
	values  map[string]registry.Value
	journal JournalFunc
}

// New creates an empty value store. SetJournal must be called before
// any Set that should be durable (e.g. during container construction);
// a nil journal makes Set purely in-memory, which is how restore-time
// replay populates a store without re-appending what was just read.
func New() *Store {
	return &Store{values: make(map[string]registry.Value)}
}

// SetJournal installs (or clears, with nil) the append hook.
func (s *Store) SetJournal(j JournalFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

// GetExplicit returns the stored value for name, if one was set.
func (s *Store) GetExplicit(name string) (registry.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// SetExplicit stores v for name without touching the journal. Used by
// restore/replay.
func (s *Store) SetExplicit(name string, v registry.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = v
}

// Set stores v for name and, if a journal is attached, appends
// (name, raw) to the persistent node. raw is the original wire string
// so replay round-trips exactly what the client sent.
func (s *Store) Set(name, raw string, v registry.Value) error {
	s.mu.Lock()
	s.values[name] = v
	j := s.journal
	s.mu.Unlock()
	if j != nil {
		return j(name, raw)
	}
	return nil
}

// Unset clears an explicit value, reverting to default-pending.
func (s *Store) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
}

// Record is one (key, value) pair for serialization.
type Record struct {
	Key   string
	Value registry.Value
}

// Serialize returns every explicit value, keys sorted, for diagnostic
// dumps.
func (s *Store) Serialize() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.values))
	for k, v := range s.values {
		out = append(out, Record{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
