// Package syncengine drains the outbox against the remote authority.
package syncengine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/events"
	"github.com/MarcoPoloResearchLab/irontemple/internal/outbox"
	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
	"go.uber.org/zap"
)

// Reason explains why a drain did not succeed.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonOffline            Reason = "offline"
	ReasonNotAuthenticated   Reason = "not_authenticated"
	ReasonAlreadySyncing     Reason = "already_syncing"
	ReasonStorageWriteFailed Reason = "storage_write_failed"
)

var (
	errMissingTransactor   = errors.New("transactor is required")
	errMissingRemote       = errors.New("remote is required")
	errMissingCredentials  = errors.New("credential source is required")
	errMissingConnectivity = errors.New("connectivity is required")
)

// Result reports the outcome of one drain. Success means no entry failed.
type Result struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`
	Synced  int    `json:"synced"`
	Failed  int    `json:"failed"`
}

// Config describes the dependencies of an Engine.
type Config struct {
	Transactor   *workouts.Transactor
	Remote       Remote
	Credentials  CredentialSource
	Connectivity Connectivity
	Events       events.Publisher
	Clock        func() time.Time
	MaxRetry     int
	Logger       *zap.Logger
}

// Engine applies queued mutations to the remote authority one at a time.
// At most one drain runs at any moment; a concurrent request is rejected.
type Engine struct {
	transactor   *workouts.Transactor
	remote       Remote
	credentials  CredentialSource
	connectivity Connectivity
	events       events.Publisher
	clock        func() time.Time
	maxRetry     int
	logger       *zap.Logger
	draining     atomic.Bool
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Transactor == nil:
		return nil, errMissingTransactor
	case cfg.Remote == nil:
		return nil, errMissingRemote
	case cfg.Credentials == nil:
		return nil, errMissingCredentials
	case cfg.Connectivity == nil:
		return nil, errMissingConnectivity
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = outbox.DefaultMaxRetry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		transactor:   cfg.Transactor,
		remote:       cfg.Remote,
		credentials:  cfg.Credentials,
		connectivity: cfg.Connectivity,
		events:       publisher,
		clock:        clock,
		maxRetry:     maxRetry,
		logger:       logger,
	}, nil
}

// MaxRetry returns the retry ceiling applied to queued entries.
func (e *Engine) MaxRetry() int {
	return e.maxRetry
}

// Syncing reports whether a drain is in flight.
func (e *Engine) Syncing() bool {
	return e.draining.Load()
}

type attempt struct {
	entry   outbox.Entry
	skipped bool
	err     error
}

// Drain runs one sequential pass over a snapshot of the outbox. Remote calls
// happen outside the storage transaction; their outcomes are applied in a
// single write at the end of the pass.
func (e *Engine) Drain(ctx context.Context) Result {
	if !e.connectivity.Online() {
		e.logger.Debug("drain skipped", zap.String("reason", string(ReasonOffline)))
		return Result{Reason: ReasonOffline}
	}
	credential, ok := e.credentials.Credential()
	if !ok || credential == "" {
		e.logger.Debug("drain skipped", zap.String("reason", string(ReasonNotAuthenticated)))
		return Result{Reason: ReasonNotAuthenticated}
	}
	if !e.draining.CompareAndSwap(false, true) {
		return Result{Reason: ReasonAlreadySyncing}
	}
	defer e.draining.Store(false)

	snapshot := e.transactor.Load()
	if len(snapshot.SyncQueue) == 0 {
		return Result{Success: true}
	}

	attempts := make([]attempt, 0, len(snapshot.SyncQueue))
	for _, entry := range snapshot.SyncQueue {
		if entry.Exhausted(e.maxRetry) {
			attempts = append(attempts, attempt{entry: entry, skipped: true})
			continue
		}
		err := e.dispatch(ctx, credential, entry, snapshot.Workouts)
		if err != nil {
			e.logger.Warn("sync entry failed",
				zap.String("workout_id", entry.RecordID),
				zap.String("action", string(entry.Action)),
				zap.Int("retry_count", entry.RetryCount),
				zap.Error(err))
		}
		attempts = append(attempts, attempt{entry: entry, err: err})
	}

	now := e.clock().UTC()
	result := Result{}
	err := e.transactor.WithStorage(func(document *workouts.Document) error {
		result = e.apply(document, attempts, now)
		stamped := now
		document.LastSyncTimestamp = &stamped
		return nil
	})
	if err != nil {
		e.logger.Error("sync bookkeeping write failed",
			zap.String("reason", string(ReasonStorageWriteFailed)),
			zap.Error(err))
		result.Success = false
		result.Reason = ReasonStorageWriteFailed
		return result
	}

	result.Success = result.Failed == 0
	e.logger.Info("drain completed", zap.Int("synced", result.Synced), zap.Int("failed", result.Failed))
	e.events.Publish(events.SyncCompleted(now, result.Synced, result.Failed))
	return result
}

func (e *Engine) dispatch(ctx context.Context, credential string, entry outbox.Entry, stored map[string]workouts.Workout) error {
	action, err := outbox.ParseAction(string(entry.Action))
	if err != nil {
		return err
	}
	if action == outbox.ActionDelete {
		err := e.remote.Delete(ctx, credential, entry.RecordID)
		if errors.Is(err, ErrRemoteNotFound) {
			return nil
		}
		return err
	}
	workout, ok := stored[entry.RecordID]
	if !ok {
		return ErrRecordMissing
	}
	if action == outbox.ActionCreate {
		return e.remote.Create(ctx, credential, workout)
	}
	return e.remote.Update(ctx, credential, workout)
}

// apply folds drain outcomes into a freshly read document. An outcome only
// settles an entry that was not replaced while its remote call was in flight.
func (e *Engine) apply(document *workouts.Document, attempts []attempt, now time.Time) Result {
	result := Result{}
	for _, outcome := range attempts {
		if outcome.skipped {
			result.Failed++
			continue
		}
		if outcome.err != nil {
			result.Failed++
		} else {
			result.Synced++
		}

		id := outcome.entry.RecordID
		current, queued := document.SyncQueue.Find(id)
		if !queued {
			continue
		}
		if !current.SameAttempt(outcome.entry) {
			if outcome.err == nil && outcome.entry.Action == outbox.ActionCreate {
				e.settleSupersededCreate(document, current, now)
			}
			continue
		}

		if outcome.err == nil {
			e.settleSuccess(document, outcome.entry, now)
			continue
		}
		failed, _ := document.SyncQueue.RecordFailure(id, outcome.err.Error())
		if workout, ok := document.Workouts[id]; ok {
			if failed.RetryCount >= e.maxRetry-1 {
				workout.SyncStatus = workouts.SyncStatusFailed
			} else {
				workout.SyncStatus = workouts.SyncStatusPending
			}
			document.Workouts[id] = workout
		}
	}
	return result
}

func (e *Engine) settleSuccess(document *workouts.Document, entry outbox.Entry, now time.Time) {
	document.SyncQueue.Remove(entry.RecordID)
	if entry.Action == outbox.ActionDelete {
		delete(document.Workouts, entry.RecordID)
		return
	}
	workout, ok := document.Workouts[entry.RecordID]
	if !ok {
		return
	}
	synced := now
	workout.SyncStatus = workouts.SyncStatusSynced
	workout.ServerSyncedAt = &synced
	document.Workouts[entry.RecordID] = workout
}

// settleSupersededCreate records that the remote now knows the workout even
// though newer local edits are still queued behind the create.
func (e *Engine) settleSupersededCreate(document *workouts.Document, current outbox.Entry, now time.Time) {
	if current.Action == outbox.ActionCreate {
		document.SyncQueue.ReplaceAction(current.RecordID, outbox.ActionUpdate)
	}
	workout, ok := document.Workouts[current.RecordID]
	if !ok {
		return
	}
	synced := now
	workout.ServerSyncedAt = &synced
	document.Workouts[current.RecordID] = workout
}

// RetryFailed resets every exhausted entry and then drains. It returns the
// number of entries reset.
func (e *Engine) RetryFailed(ctx context.Context) (int, Result, error) {
	reset := 0
	err := e.transactor.WithStorage(func(document *workouts.Document) error {
		for _, entry := range document.SyncQueue {
			if !entry.Exhausted(e.maxRetry) {
				continue
			}
			if workout, ok := document.Workouts[entry.RecordID]; ok {
				workout.SyncStatus = workouts.SyncStatusPending
				document.Workouts[entry.RecordID] = workout
			}
		}
		reset = document.SyncQueue.ResetExhausted(e.maxRetry)
		return nil
	})
	if err != nil {
		e.logger.Error("retry reset failed", zap.Error(err))
		return 0, Result{Reason: ReasonStorageWriteFailed}, err
	}
	return reset, e.Drain(ctx), nil
}

// ClearQueue drops every queued entry.
func (e *Engine) ClearQueue() error {
	return e.transactor.WithStorage(func(document *workouts.Document) error {
		document.SyncQueue = outbox.Queue{}
		return nil
	})
}

// Status summarizes the queue.
func (e *Engine) Status() outbox.Status {
	document := e.transactor.Load()
	return outbox.Summarize(document.SyncQueue, e.maxRetry, document.LastSyncTimestamp)
}
