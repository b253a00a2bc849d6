// Package state tracks in-flight review projects between pipeline steps.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/revprisma/gateway/internal/revprisma"
)

// Pipeline stages
const (
	StageSearched     = "searched"
	StageDeduplicated = "deduplicated"
	StageScreened     = "screened"
	StageCompleted    = "completed"
)

// ProjectState is the working snapshot of one review project.
// It feeds PRISMA count inference when the caller omits explicit counts.
type ProjectState struct {
	ProjectID   string
	ProjectName string
	OwnerID     string

	RawCount      int
	DedupCount    int
	ScreenedCount int
	IncludedCount int
	ExcludedCount int

	Stage     string
	Records   []revprisma.Record
	UpdatedAt time.Time
}

// Store keeps project state in memory with expiration. Callers always
// receive snapshot copies; mutations go through Put or Update, which the
// mutex serializes.
type Store struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// clone is a shallow copy; Records is replaced wholesale on update, never
// mutated element by element.
func clone(state *ProjectState) *ProjectState {
	c := *state
	return &c
}

// NewStore creates a state store. Entries expire after ttl of inactivity.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

// Put stores or replaces a project state, stamping UpdatedAt.
func (s *Store) Put(state *ProjectState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now()
	s.cache.Set(state.ProjectID, clone(state), cache.DefaultExpiration)
}

// Get returns a snapshot of a project's state, or nil if unknown or expired.
func (s *Store) Get(projectID string) *ProjectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, found := s.cache.Get(projectID); found {
		return clone(v.(*ProjectState))
	}
	return nil
}

// Update applies fn to an existing state and re-stores it atomically.
// Returns false if the project is unknown.
func (s *Store) Update(projectID string, fn func(*ProjectState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.cache.Get(projectID)
	if !found {
		return false
	}
	next := clone(v.(*ProjectState))
	fn(next)
	next.UpdatedAt = time.Now()
	s.cache.Set(next.ProjectID, next, cache.DefaultExpiration)
	return true
}

// Delete drops a project's state.
func (s *Store) Delete(projectID string) {
	s.cache.Delete(projectID)
}

// List returns snapshots of all live project states, newest first.
func (s *Store) List() []*ProjectState {
	s.mu.Lock()
	items := s.cache.Items()
	s.mu.Unlock()
	states := make([]*ProjectState, 0, len(items))
	for _, item := range items {
		states = append(states, clone(item.Object.(*ProjectState)))
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states
}

// Count returns the number of tracked projects.
func (s *Store) Count() int {
	return s.cache.ItemCount()
}
