package workouts

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/events"
	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
)

type fixedIdentity struct {
	owner string
}

func (f fixedIdentity) CurrentOwner() (string, bool) {
	return f.owner, f.owner != ""
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
	err  error
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.next++
	return fmt.Sprintf("id-%03d", s.next), nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(step time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(step)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type rejectingBackend struct {
	*store.MemoryBackend
	reject bool
}

func (b *rejectingBackend) Put(key string, value []byte) error {
	if b.reject {
		return errors.New("disk unavailable")
	}
	return b.MemoryBackend.Put(key, value)
}

type repositoryFixture struct {
	repository *Repository
	transactor *Transactor
	backend    *rejectingBackend
	ids        *sequenceIDs
	clock      *manualClock
	publisher  *recordingPublisher
}

func newRepositoryFixture(t *testing.T, owner string) repositoryFixture {
	t.Helper()
	backend := &rejectingBackend{MemoryBackend: store.NewMemoryBackend()}
	kv, err := store.New(store.Config{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	transactor, err := NewTransactor(TransactorConfig{Store: kv})
	if err != nil {
		t.Fatalf("unexpected transactor error: %v", err)
	}
	clock := newManualClock(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{}
	ids := &sequenceIDs{}
	repository, err := NewRepository(RepositoryConfig{
		Transactor: transactor,
		Identity:   fixedIdentity{owner: owner},
		Events:     publisher,
		Clock:      clock.Now,
		IDProvider: ids,
	})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return repositoryFixture{
		repository: repository,
		transactor: transactor,
		backend:    backend,
		ids:        ids,
		clock:      clock,
		publisher:  publisher,
	}
}

func mustCreate(t *testing.T, repository *Repository, input Input) Workout {
	t.Helper()
	workout, err := repository.Create(input)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return workout
}

func completedSet(reps int, weight float64) Set {
	return Set{Reps: reps, Weight: weight, Completed: true}
}
