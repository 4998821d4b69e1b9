package workouts

import (
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/outbox"
	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
	"go.uber.org/zap"
)

const (
	// StorageKey is the single key holding the storage document.
	StorageKey = "irontemple_workouts"
	// SchemaVersion is the document layout written by this package.
	SchemaVersion = "1.1"
)

var errMissingStore = errors.New("store is required")

// Document is the single persisted root. Workouts and their queued
// mutations live together so that one write covers both.
type Document struct {
	Workouts          map[string]Workout `json:"workouts"`
	SyncQueue         outbox.Queue       `json:"syncQueue"`
	LastSyncTimestamp *time.Time         `json:"lastSyncTimestamp"`
	Version           string             `json:"version"`
}

// NewDocument returns an empty document at the current schema version.
func NewDocument() Document {
	return Document{
		Workouts:          make(map[string]Workout),
		SyncQueue:         outbox.Queue{},
		LastSyncTimestamp: nil,
		Version:           SchemaVersion,
	}
}

// TransactorConfig describes the dependencies of a Transactor.
type TransactorConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// Transactor reads the whole document, applies a mutation and writes the
// whole document back. Calls are serialized within the process; separate
// processes sharing one store are not coordinated.
type Transactor struct {
	mu     sync.Mutex
	store  store.Store
	logger *zap.Logger
}

// NewTransactor constructs a Transactor.
func NewTransactor(cfg TransactorConfig) (*Transactor, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opTransactorNew, "missing_store", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Transactor{store: cfg.Store, logger: logger}, nil
}

// Load returns a private copy of the current document. Unreadable or
// missing data yields an empty document.
func (t *Transactor) Load() Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	document, _ := t.read()
	return document
}

// WithStorage applies mutator to a freshly read document and persists the
// result in one write. A mutator error aborts the transaction without
// writing; a write failure is returned wrapped around store.ErrStorageWriteFailed.
func (t *Transactor) WithStorage(mutator func(*Document) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	document, upgrades := t.read()
	if err := mutator(&document); err != nil {
		return err
	}
	document.Version = SchemaVersion
	if err := t.store.Write(StorageKey, document); err != nil {
		return err
	}
	for _, upgrade := range upgrades {
		t.logger.Info("document upgrade applied", zap.String("upgrade", upgrade))
	}
	return nil
}

func (t *Transactor) read() (Document, []string) {
	document := NewDocument()
	if !t.store.Read(StorageKey, &document) {
		return NewDocument(), nil
	}
	upgrades := upgradeDocument(&document)
	normalizeDocument(&document)
	return document, upgrades
}

func normalizeDocument(document *Document) {
	if document.Workouts == nil {
		document.Workouts = make(map[string]Workout)
	}
	if document.SyncQueue == nil {
		document.SyncQueue = outbox.Queue{}
	}
	for id, workout := range document.Workouts {
		if workout.Exercises == nil {
			workout.Exercises = []Exercise{}
		}
		for index := range workout.Exercises {
			if workout.Exercises[index].Sets == nil {
				workout.Exercises[index].Sets = []Set{}
			}
		}
		document.Workouts[id] = workout
	}
}
