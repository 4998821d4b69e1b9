package workouts

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/events"
	"github.com/MarcoPoloResearchLab/irontemple/internal/outbox"
	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
	"go.uber.org/zap"
)

var (
	errMissingTransactor = errors.New("transactor is required")
	errMissingIdentity   = errors.New("identity source is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation-scoped code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opTransactorNew    = "workouts.transactor.new"
	opRepositoryNew    = "workouts.repository.new"
	opCreate           = "workouts.create"
	opUpdate           = "workouts.update"
	opSoftDelete       = "workouts.soft_delete"
	opAddExercise      = "workouts.add_exercise"
	opReorderExercises = "workouts.reorder_exercises"
	opAddSet           = "workouts.add_set"
	opUpdateSet        = "workouts.update_set"
	opRemoveSet        = "workouts.remove_set"

	reasonNotAuthenticated   = "not_authenticated"
	reasonNotFound           = "not_found"
	reasonInvalid            = "invalid_workout"
	reasonIDGeneration       = "id_generation_failed"
	reasonStorageWriteFailed = "storage_write_failed"
	reasonMutationFailed     = "mutation_failed"
)

var errIDGeneration = errors.New("workouts: id generation failed")

// DefaultWeeksWindow is the fixed divisor of AverageWorkoutsPerWeek.
const DefaultWeeksWindow = 4

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IdentitySource reports the owner of newly created workouts. Guests count
// as owners.
type IdentitySource interface {
	CurrentOwner() (string, bool)
}

// IDProvider issues identifiers for workouts, exercises and sets.
type IDProvider interface {
	NewID() (string, error)
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Transactor  *Transactor
	Identity    IdentitySource
	Events      events.Publisher
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
	WeeksWindow int
}

// Repository provides CRUD and derived views over locally stored workouts.
// Every mutation enqueues its outbox entry in the same document write.
type Repository struct {
	transactor  *Transactor
	identity    IdentitySource
	events      events.Publisher
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	weeksWindow int
}

// NewRepository constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Transactor == nil {
		return nil, newServiceError(opRepositoryNew, "missing_transactor", errMissingTransactor)
	}
	if cfg.Identity == nil {
		return nil, newServiceError(opRepositoryNew, "missing_identity", errMissingIdentity)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opRepositoryNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	weeks := cfg.WeeksWindow
	if weeks <= 0 {
		weeks = DefaultWeeksWindow
	}

	return &Repository{
		transactor:  cfg.Transactor,
		identity:    cfg.Identity,
		events:      publisher,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		weeksWindow: weeks,
	}, nil
}

// Create stores a new pending workout owned by the current identity and
// queues its upload.
func (r *Repository) Create(input Input) (Workout, error) {
	owner, ok := r.identity.CurrentOwner()
	if !ok || owner == "" {
		r.logError(opCreate, reasonNotAuthenticated, ErrNotAuthenticated)
		return Workout{}, newServiceError(opCreate, reasonNotAuthenticated, ErrNotAuthenticated)
	}

	id, err := r.newID()
	if err != nil {
		r.logError(opCreate, reasonIDGeneration, err)
		return Workout{}, newServiceError(opCreate, reasonIDGeneration, err)
	}

	now := r.now()
	workout := Workout{
		ID:              id,
		OwnerID:         owner,
		Name:            input.Name,
		Date:            input.Date,
		Notes:           input.Notes,
		DurationMinutes: input.DurationMinutes,
		SyncStatus:      SyncStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ServerSyncedAt:  nil,
	}
	if workout.Name == "" {
		workout.Name = defaultWorkoutName
	}
	if workout.Date.IsZero() {
		workout.Date = now
	}
	workout.Exercises, err = r.normalizeExercises(id, input.Exercises)
	if err != nil {
		return Workout{}, r.classify(opCreate, id, err)
	}
	if err := validateWorkout(workout); err != nil {
		return Workout{}, newServiceError(opCreate, reasonInvalid, err)
	}

	err = r.transactor.WithStorage(func(document *Document) error {
		document.Workouts[id] = workout
		document.SyncQueue.Enqueue(id, outbox.ActionCreate, now)
		return nil
	})
	if err != nil {
		r.logError(opCreate, reasonStorageWriteFailed, err, zap.String("workout_id", id))
		return Workout{}, newServiceError(opCreate, reasonStorageWriteFailed, err)
	}

	r.events.Publish(events.RecordsChanged(now, id))
	return workout.Clone(), nil
}

// Update merges patch into the workout, marks it pending and queues an
// update. A workout whose create is still queued keeps the create action.
func (r *Repository) Update(id string, patch Patch) (Workout, error) {
	return r.mutate(opUpdate, id, func(workout *Workout) error {
		if patch.Name != nil {
			workout.Name = *patch.Name
		}
		if patch.Date != nil {
			workout.Date = *patch.Date
		}
		if patch.Notes != nil {
			workout.Notes = *patch.Notes
		}
		if patch.DurationMinutes != nil {
			workout.DurationMinutes = *patch.DurationMinutes
		}
		if patch.Exercises != nil {
			exercises, err := r.normalizeExercises(workout.ID, *patch.Exercises)
			if err != nil {
				return err
			}
			workout.Exercises = exercises
		}
		return nil
	})
}

// SoftDelete hides the workout from every view and queues its remote
// deletion. The record stays stored until the deletion is acknowledged.
func (r *Repository) SoftDelete(id string) error {
	now := r.now()
	err := r.transactor.WithStorage(func(document *Document) error {
		workout, ok := document.Workouts[id]
		if !ok || workout.Deleted {
			return ErrNotFound
		}
		deletedAt := now
		workout.Deleted = true
		workout.DeletedAt = &deletedAt
		workout.SyncStatus = SyncStatusPending
		document.Workouts[id] = workout
		document.SyncQueue.Enqueue(id, outbox.ActionDelete, now)
		return nil
	})
	if err != nil {
		return r.classify(opSoftDelete, id, err)
	}
	r.events.Publish(events.RecordsChanged(now, id))
	return nil
}

// GetByID returns the visible workout with id.
func (r *Repository) GetByID(id string) (Workout, error) {
	document := r.transactor.Load()
	workout, ok := document.Workouts[id]
	if !ok || workout.Deleted {
		return Workout{}, ErrNotFound
	}
	return workout, nil
}

// ListAll returns every visible workout, most recent date first.
func (r *Repository) ListAll() []Workout {
	return visibleWorkouts(r.transactor.Load())
}

// ListRecent returns at most limit visible workouts, most recent first.
func (r *Repository) ListRecent(limit int) []Workout {
	all := r.ListAll()
	if limit < 0 {
		limit = 0
	}
	if limit < len(all) {
		return all[:limit]
	}
	return all
}

// ListByDateRange returns visible workouts dated within [start, end].
func (r *Repository) ListByDateRange(start, end time.Time) []Workout {
	all := r.ListAll()
	filtered := make([]Workout, 0, len(all))
	for _, workout := range all {
		if workout.Date.Before(start) || workout.Date.After(end) {
			continue
		}
		filtered = append(filtered, workout)
	}
	return filtered
}

// AggregateStats summarizes visible workouts.
func (r *Repository) AggregateStats() Stats {
	return ComputeStats(r.ListAll(), r.now(), r.weeksWindow)
}

// mutate runs change against a visible workout and applies the shared
// update semantics: bump updatedAt, force pending, queue an update.
func (r *Repository) mutate(operation, id string, change func(*Workout) error) (Workout, error) {
	now := r.now()
	var updated Workout
	err := r.transactor.WithStorage(func(document *Document) error {
		workout, ok := document.Workouts[id]
		if !ok || workout.Deleted {
			return ErrNotFound
		}
		workout = workout.Clone()
		if err := change(&workout); err != nil {
			return err
		}
		if err := validateWorkout(workout); err != nil {
			return err
		}
		workout.ID = id
		workout.UpdatedAt = now
		workout.SyncStatus = SyncStatusPending
		document.Workouts[id] = workout
		document.SyncQueue.Enqueue(id, outbox.ActionUpdate, now)
		updated = workout
		return nil
	})
	if err != nil {
		return Workout{}, r.classify(operation, id, err)
	}
	r.events.Publish(events.RecordsChanged(now, id))
	return updated.Clone(), nil
}

func (r *Repository) classify(operation, id string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(operation, reasonNotFound, err)
	case errors.Is(err, ErrInvalidWorkout):
		return newServiceError(operation, reasonInvalid, err)
	case errors.Is(err, store.ErrStorageWriteFailed):
		r.logError(operation, reasonStorageWriteFailed, err, zap.String("workout_id", id))
		return newServiceError(operation, reasonStorageWriteFailed, err)
	case errors.Is(err, errIDGeneration):
		r.logError(operation, reasonIDGeneration, err, zap.String("workout_id", id))
		return newServiceError(operation, reasonIDGeneration, err)
	default:
		r.logError(operation, reasonMutationFailed, err, zap.String("workout_id", id))
		return newServiceError(operation, reasonMutationFailed, err)
	}
}

func (r *Repository) normalizeExercises(workoutID string, exercises []Exercise) ([]Exercise, error) {
	normalized := cloneExercises(exercises)
	if normalized == nil {
		return []Exercise{}, nil
	}
	for exerciseIndex := range normalized {
		exercise := &normalized[exerciseIndex]
		if exercise.ID == "" {
			id, err := r.newID()
			if err != nil {
				return nil, err
			}
			exercise.ID = id
		}
		exercise.WorkoutID = workoutID
		if exercise.Name == "" {
			exercise.Name = defaultExerciseName
		}
		if exercise.Sets == nil {
			exercise.Sets = []Set{}
		}
		for setIndex := range exercise.Sets {
			set := &exercise.Sets[setIndex]
			if set.ID == "" {
				id, err := r.newID()
				if err != nil {
					return nil, err
				}
				set.ID = id
			}
			set.ExerciseID = exercise.ID
			if set.SetNumber <= 0 {
				set.SetNumber = setIndex + 1
			}
		}
	}
	return normalized, nil
}

func (r *Repository) newID() (string, error) {
	id, err := r.idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errIDGeneration, err)
	}
	return id, nil
}

func (r *Repository) now() time.Time {
	return r.clock().UTC()
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("workouts repository error", attrs...)
}

func visibleWorkouts(document Document) []Workout {
	visible := make([]Workout, 0, len(document.Workouts))
	for _, workout := range document.Workouts {
		if workout.Deleted {
			continue
		}
		visible = append(visible, workout)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		left, right := visible[i], visible[j]
		if !left.Date.Equal(right.Date) {
			return left.Date.After(right.Date)
		}
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.After(right.CreatedAt)
		}
		return left.ID < right.ID
	})
	return visible
}
