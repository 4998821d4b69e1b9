package workouts

import (
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const legacyDocument = `{
  "workouts": {
    "w-1": {
      "id": "w-1",
      "userId": "guest_1",
      "name": "Legacy",
      "date": "2026-09-01T08:00:00Z",
      "exercises": [
        {"id": "e-1", "name": "Squat", "sets": [
          {"id": "s-1", "reps": 5, "weight": 100, "completed": true},
          {"id": "s-2", "reps": 5, "weight": 100, "completed": true}
        ]},
        {"id": "e-2", "name": "Lunge", "sets": [
          {"id": "s-3", "setNumber": 1, "reps": 8, "weight": 20, "completed": true, "order": 1},
          {"id": "s-4", "setNumber": 2, "reps": 8, "weight": 20, "completed": true, "order": 0}
        ]}
      ],
      "syncStatus": "pending",
      "createdAt": "2026-09-01T08:00:00Z",
      "updatedAt": "2026-09-01T08:00:00Z",
      "serverSyncedAt": null
    }
  },
  "syncQueue": [{"workoutId": "w-1", "action": "create", "timestamp": "2026-09-01T08:00:00Z", "retryCount": 0, "lastError": null}],
  "lastSyncTimestamp": null,
  "version": "1.0"
}`

func newTransactorFixture(t *testing.T, logger *zap.Logger) (*Transactor, *store.MemoryBackend) {
	t.Helper()
	backend := store.NewMemoryBackend()
	kv, err := store.New(store.Config{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	transactor, err := NewTransactor(TransactorConfig{Store: kv, Logger: logger})
	if err != nil {
		t.Fatalf("unexpected transactor error: %v", err)
	}
	return transactor, backend
}

func TestLoadReturnsEmptyDocumentWhenMissingOrCorrupt(t *testing.T) {
	transactor, backend := newTransactorFixture(t, nil)
	document := transactor.Load()
	if document.Version != SchemaVersion || len(document.Workouts) != 0 || document.SyncQueue == nil {
		t.Fatalf("unexpected empty document: %#v", document)
	}

	if err := backend.Put(StorageKey, []byte("{not json")); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	document = transactor.Load()
	if len(document.Workouts) != 0 || document.LastSyncTimestamp != nil {
		t.Fatalf("expected corrupt document to degrade to empty, got %#v", document)
	}
}

func TestWithStorageAbortsOnMutatorError(t *testing.T) {
	transactor, backend := newTransactorFixture(t, nil)
	sentinel := errors.New("stop")
	err := transactor.WithStorage(func(document *Document) error {
		document.Workouts["w-1"] = Workout{ID: "w-1"}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if _, found, _ := backend.Get(StorageKey); found {
		t.Fatalf("expected nothing written after an aborted mutation")
	}
}

func TestLegacyDocumentIsUpgradedOnWrite(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	transactor, backend := newTransactorFixture(t, zap.New(core))
	if err := backend.Put(StorageKey, []byte(legacyDocument)); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	loaded := transactor.Load()
	exercise := loaded.Workouts["w-1"].Exercises[0]
	if exercise.WorkoutID != "w-1" {
		t.Fatalf("expected workout reference backfilled, got %q", exercise.WorkoutID)
	}
	if exercise.Sets[1].ExerciseID != "e-1" || exercise.Sets[1].SetNumber != 2 {
		t.Fatalf("expected set references backfilled, got %#v", exercise.Sets[1])
	}
	if exercise.Sets[0].Order != 0 || exercise.Sets[1].Order != 1 {
		t.Fatalf("expected set order derived from position, got %#v", exercise.Sets)
	}
	second := loaded.Workouts["w-1"].Exercises[1]
	if exercise.Order != 0 || second.Order != 1 {
		t.Fatalf("expected exercise order derived from position, got %d and %d", exercise.Order, second.Order)
	}
	if second.Sets[0].Order != 1 || second.Sets[1].Order != 0 {
		t.Fatalf("expected explicit set order kept, got %#v", second.Sets)
	}
	if loaded.Version != SchemaVersion {
		t.Fatalf("expected upgraded version, got %q", loaded.Version)
	}

	if err := transactor.WithStorage(func(*Document) error { return nil }); err != nil {
		t.Fatalf("unexpected storage error: %v", err)
	}
	if logs.FilterMessage("document upgrade applied").Len() != 1 {
		t.Fatalf("expected upgrade to be logged once, got %d", logs.FilterMessage("document upgrade applied").Len())
	}
	if err := transactor.WithStorage(func(*Document) error { return nil }); err != nil {
		t.Fatalf("unexpected storage error: %v", err)
	}
	if logs.FilterMessage("document upgrade applied").Len() != 1 {
		t.Fatalf("expected persisted document to need no further upgrade")
	}
}
