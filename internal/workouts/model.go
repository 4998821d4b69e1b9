package workouts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncStatus tracks whether the remote authority has acknowledged the
// latest local state of a workout.
type SyncStatus string

const (
	// SyncStatusPending marks local changes awaiting upload.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSynced marks a workout whose latest action was acknowledged.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusFailed marks a workout whose upload keeps failing.
	SyncStatusFailed SyncStatus = "failed"
)

const (
	maxIdentifierLength = 190
	defaultWorkoutName  = "Untitled Workout"
	defaultExerciseName = "Untitled Exercise"
)

var (
	// ErrNotAuthenticated indicates a mutation was attempted without an identity.
	ErrNotAuthenticated = errors.New("workouts: not authenticated")
	// ErrNotFound indicates the workout is absent or soft-deleted.
	ErrNotFound = errors.New("workouts: not found")
	// ErrExerciseNotFound indicates the exercise is absent from the workout.
	ErrExerciseNotFound = fmt.Errorf("%w: exercise", ErrNotFound)
	// ErrSetNotFound indicates the set is absent from the exercise.
	ErrSetNotFound = fmt.Errorf("%w: set", ErrNotFound)
	// ErrInvalidWorkout indicates the workout violates a data invariant.
	ErrInvalidWorkout = errors.New("workouts: invalid workout")
	// ErrInvalidWorkoutID indicates that a workout identifier is empty or exceeds storage bounds.
	ErrInvalidWorkoutID = errors.New("workouts: invalid workout id")
)

// WorkoutID represents a validated workout identifier.
type WorkoutID string

// NewWorkoutID validates raw input and returns a WorkoutID.
func NewWorkoutID(rawInput string) (WorkoutID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWorkoutID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWorkoutID, maxIdentifierLength)
	}
	return WorkoutID(trimmed), nil
}

// String returns the underlying string identifier.
func (id WorkoutID) String() string {
	return string(id)
}

// Set is a single set of an exercise.
type Set struct {
	ID         string `json:"id"`
	ExerciseID string `json:"exerciseId,omitempty"`
	// SetNumber is the 1-based display index, renumbered on removal.
	SetNumber int     `json:"setNumber"`
	Reps      int     `json:"reps"`
	Weight    float64 `json:"weight"`
	// Completed sets are the only ones that count toward volume.
	Completed bool `json:"completed"`
	Order     int  `json:"order"`
}

// Volume returns reps times weight for completed sets and zero otherwise.
func (s Set) Volume() float64 {
	if !s.Completed {
		return 0
	}
	return float64(s.Reps) * s.Weight
}

// Exercise groups the sets of one movement inside a workout.
type Exercise struct {
	ID string `json:"id"`
	// WorkoutID references the owning workout by id.
	WorkoutID string `json:"workoutId"`
	Name      string `json:"name"`
	Sets      []Set  `json:"sets"`
	Notes     string `json:"notes"`
	// Order is an explicit sequence index, independent of slice position.
	Order int `json:"order"`
}

// Workout is the locally owned record synchronized with the remote authority.
type Workout struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"userId"`
	Name            string     `json:"name"`
	Date            time.Time  `json:"date"`
	Exercises       []Exercise `json:"exercises"`
	Notes           string     `json:"notes"`
	DurationMinutes int        `json:"duration"`
	SyncStatus      SyncStatus `json:"syncStatus"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ServerSyncedAt  *time.Time `json:"serverSyncedAt"`
	Deleted         bool       `json:"deleted,omitempty"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

// Volume sums the volume of every completed set.
func (w Workout) Volume() float64 {
	total := 0.0
	for _, exercise := range w.Exercises {
		for _, set := range exercise.Sets {
			total += set.Volume()
		}
	}
	return total
}

// Clone returns a deep copy of the workout.
func (w Workout) Clone() Workout {
	cloned := w
	cloned.Exercises = cloneExercises(w.Exercises)
	cloned.ServerSyncedAt = cloneTime(w.ServerSyncedAt)
	cloned.DeletedAt = cloneTime(w.DeletedAt)
	return cloned
}

// Input carries the caller-supplied fields of a new workout. The JSON
// names match the stored and remote workout body.
type Input struct {
	Name            string     `json:"name"`
	Date            time.Time  `json:"date"`
	Exercises       []Exercise `json:"exercises"`
	Notes           string     `json:"notes"`
	DurationMinutes int        `json:"duration"`
}

// Patch carries the fields to merge into an existing workout. Nil fields are
// left unchanged.
type Patch struct {
	Name            *string     `json:"name,omitempty"`
	Date            *time.Time  `json:"date,omitempty"`
	Exercises       *[]Exercise `json:"exercises,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	DurationMinutes *int        `json:"duration,omitempty"`
}

// ExerciseInput describes an exercise appended to a workout.
type ExerciseInput struct {
	Name  string
	Sets  []Set
	Notes string
	// Order defaults to the current number of exercises.
	Order *int
}

// SetInput describes a set appended to an exercise.
type SetInput struct {
	// SetNumber defaults to the current number of sets plus one.
	SetNumber int
	Reps      int
	Weight    float64
	// Completed defaults to true.
	Completed *bool
	// Order defaults to the current number of sets.
	Order *int
}

// SetPatch carries the fields to merge into an existing set.
type SetPatch struct {
	Reps      *int
	Weight    *float64
	Completed *bool
}

func validateWorkout(workout Workout) error {
	if workout.DurationMinutes < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidWorkout)
	}
	for _, exercise := range workout.Exercises {
		for _, set := range exercise.Sets {
			if err := validateSet(set); err != nil {
				return fmt.Errorf("%w: exercise %q", err, exercise.Name)
			}
		}
	}
	return nil
}

func validateSet(set Set) error {
	if set.Reps <= 0 {
		return fmt.Errorf("%w: set %d reps must be positive", ErrInvalidWorkout, set.SetNumber)
	}
	if set.Weight < 0 {
		return fmt.Errorf("%w: set %d weight must not be negative", ErrInvalidWorkout, set.SetNumber)
	}
	return nil
}

func cloneExercises(exercises []Exercise) []Exercise {
	if exercises == nil {
		return nil
	}
	cloned := make([]Exercise, len(exercises))
	for index, exercise := range exercises {
		exercise.Sets = append([]Set(nil), exercise.Sets...)
		cloned[index] = exercise
	}
	return cloned
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
