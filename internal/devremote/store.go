package devremote

import (
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/syncengine"
)

// StoredWorkout is the canonical representation kept by the dev remote.
type StoredWorkout struct {
	syncengine.WorkoutPayload
	OwnerID   string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MemoryStore keeps workouts per owner in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	workouts map[string]map[string]StoredWorkout
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workouts: make(map[string]map[string]StoredWorkout)}
}

// Upsert stores payload under its client id and reports whether it was new.
func (s *MemoryStore) Upsert(owner string, payload syncengine.WorkoutPayload, now time.Time) (StoredWorkout, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned, ok := s.workouts[owner]
	if !ok {
		owned = make(map[string]StoredWorkout)
		s.workouts[owner] = owned
	}
	existing, found := owned[payload.ClientID]
	stored := StoredWorkout{WorkoutPayload: payload, OwnerID: owner, CreatedAt: now, UpdatedAt: now}
	if found {
		stored.CreatedAt = existing.CreatedAt
	}
	owned[payload.ClientID] = stored
	return stored, !found
}

// Get returns the workout with id.
func (s *MemoryStore) Get(owner, id string) (StoredWorkout, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.workouts[owner][id]
	return stored, ok
}

// Delete removes the workout with id and reports whether it existed.
func (s *MemoryStore) Delete(owner, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workouts[owner][id]; !ok {
		return false
	}
	delete(s.workouts[owner], id)
	return true
}

// List returns the owner's workouts, most recent date first.
func (s *MemoryStore) List(owner string) []StoredWorkout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listed := make([]StoredWorkout, 0, len(s.workouts[owner]))
	for _, stored := range s.workouts[owner] {
		listed = append(listed, stored)
	}
	sort.Slice(listed, func(i, j int) bool {
		if !listed[i].Date.Equal(listed[j].Date) {
			return listed[i].Date.After(listed[j].Date)
		}
		return listed[i].ClientID < listed[j].ClientID
	})
	return listed
}

// Faults makes the protected endpoints fail on demand.
type Faults struct {
	mu        sync.Mutex
	remaining int
	status    int
}

// FailNext makes the next n protected requests answer with status.
func (f *Faults) FailNext(n int, status int) {
	f.mu.Lock()
	f.remaining = n
	f.status = status
	f.mu.Unlock()
}

// take consumes one injected failure and returns its status.
func (f *Faults) take() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return 0, false
	}
	f.remaining--
	return f.status, true
}
