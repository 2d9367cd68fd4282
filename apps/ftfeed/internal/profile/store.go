package profile

import (
	"slices"
	"sync"

	"ftfeed/apps/ftfeed/internal/model"
)

// Lookup is the read side of the store used by the filters and buffers.
type Lookup interface {
	Get(address string) (model.UserProfile, bool)
}

// Store maps lower-cased addresses to their latest profile. Entries are only
// ever replaced wholesale, never mutated or removed.
type Store struct {
	mu        sync.RWMutex
	profiles  map[string]model.UserProfile
	listeners []func(address string)
}

func NewStore() *Store {
	return &Store{profiles: make(map[string]model.UserProfile)}
}

func (s *Store) Get(address string) (model.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[model.NormalizeAddress(address)]
	return profile, ok
}

func (s *Store) Has(address string) bool {
	_, ok := s.Get(address)
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Put replaces the profile for address and notifies listeners once.
func (s *Store) Put(address string, profile model.UserProfile) {
	key := model.NormalizeAddress(address)

	s.mu.Lock()
	s.profiles[key] = profile
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(key)
	}
}

// OnChange registers a callback invoked after every Put, outside the lock.
func (s *Store) OnChange(listener func(address string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Snapshot returns a copy of the store contents.
func (s *Store) Snapshot() map[string]model.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]model.UserProfile, len(s.profiles))
	for address, profile := range s.profiles {
		snapshot[address] = profile
	}
	return snapshot
}
