package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/events"
	"github.com/MarcoPoloResearchLab/irontemple/internal/outbox"
	"github.com/MarcoPoloResearchLab/irontemple/internal/syncengine"
)

type stubEngine struct {
	mu      sync.Mutex
	status  outbox.Status
	drains  atomic.Int32
	syncing atomic.Bool
	drained chan struct{}
}

func newStubEngine() *stubEngine {
	return &stubEngine{drained: make(chan struct{}, 16)}
}

func (s *stubEngine) Drain(context.Context) syncengine.Result {
	s.drains.Add(1)
	s.mu.Lock()
	s.status = outbox.Status{Health: outbox.HealthSynced}
	s.mu.Unlock()
	s.drained <- struct{}{}
	return syncengine.Result{Success: true}
}

func (s *stubEngine) Status() outbox.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubEngine) Syncing() bool {
	return s.syncing.Load()
}

func (s *stubEngine) setStatus(status outbox.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func waitForDrain(t *testing.T, engine *stubEngine) {
	t.Helper()
	select {
	case <-engine.drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a drain to be triggered")
	}
}

func TestDeriveAppliesPrecedence(t *testing.T) {
	testCases := []struct {
		name    string
		online  bool
		syncing bool
		queue   outbox.Status
		want    DisplayStatus
	}{
		{name: "offline wins", online: false, syncing: true, queue: outbox.Status{Failed: 1}, want: DisplayOffline},
		{name: "syncing over failed", online: true, syncing: true, queue: outbox.Status{Failed: 1}, want: DisplaySyncing},
		{name: "failed over pending", online: true, queue: outbox.Status{Failed: 1, Pending: 2}, want: DisplayFailed},
		{name: "pending", online: true, queue: outbox.Status{Pending: 2}, want: DisplayPending},
		{name: "synced", online: true, want: DisplaySynced},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Derive(testCase.online, testCase.syncing, testCase.queue); got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}

func TestConnectivityReportsOnlyChanges(t *testing.T) {
	connectivity := NewConnectivity(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := connectivity.Transitions(ctx)
	defer cleanup()

	if connectivity.SetOnline(false) {
		t.Fatalf("expected no change")
	}
	if !connectivity.SetOnline(true) {
		t.Fatalf("expected change")
	}
	select {
	case online := <-stream:
		if !online {
			t.Fatalf("expected online transition")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected transition")
	}
	cleanup()
	if _, ok := <-stream; ok {
		t.Fatalf("expected stream closed after cleanup")
	}
}

func TestObserverDrainsOnReconnectAndMutation(t *testing.T) {
	engine := newStubEngine()
	connectivity := NewConnectivity(false)
	bus := events.NewBus()
	var changes []DisplayStatus
	var changesMu sync.Mutex
	observer, err := NewObserver(ObserverConfig{
		Engine:       engine,
		Connectivity: connectivity,
		Events:       bus,
		PollInterval: time.Hour,
		OnChange: func(snapshot Snapshot) {
			changesMu.Lock()
			changes = append(changes, snapshot.Display)
			changesMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("unexpected observer error: %v", err)
	}
	if observer.Snapshot().Display != DisplayOffline {
		t.Fatalf("expected offline initial display")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- observer.Run(ctx) }()

	engine.setStatus(outbox.Status{Pending: 1, Fresh: 1})
	bus.Publish(events.RecordsChanged(time.Now(), "w-1"))
	time.Sleep(50 * time.Millisecond)
	if engine.drains.Load() != 0 {
		t.Fatalf("expected no drain while offline")
	}

	connectivity.SetOnline(true)
	waitForDrain(t, engine)

	bus.Publish(events.RecordsChanged(time.Now(), "w-1"))
	waitForDrain(t, engine)

	cancel()
	<-done

	if observer.Snapshot().Display != DisplaySynced {
		t.Fatalf("expected synced display, got %s", observer.Snapshot().Display)
	}
	changesMu.Lock()
	defer changesMu.Unlock()
	if len(changes) == 0 {
		t.Fatalf("expected display changes to be reported")
	}
}

func TestObserverPollsForFreshEntries(t *testing.T) {
	engine := newStubEngine()
	connectivity := NewConnectivity(true)
	observer, err := NewObserver(ObserverConfig{
		Engine:       engine,
		Connectivity: connectivity,
		Events:       events.NewBus(),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected observer error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = observer.Run(ctx) }()

	waitForDrain(t, engine)
	engine.setStatus(outbox.Status{Pending: 1, Fresh: 1})
	waitForDrain(t, engine)
}

func TestProberTreatsAnyResponseAsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if !NewProber(ProberConfig{URL: server.URL}).Probe(context.Background()) {
		t.Fatalf("expected reachable")
	}
	if NewProber(ProberConfig{URL: "http://127.0.0.1:1", Timeout: time.Second}).Probe(context.Background()) {
		t.Fatalf("expected unreachable")
	}
}
