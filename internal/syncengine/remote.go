package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
)

var (
	// ErrRemoteRejected indicates the remote authority answered with an error
	// status for a queued action.
	ErrRemoteRejected = errors.New("syncengine: remote rejected")
	// ErrRemoteNotFound indicates the remote authority has no such workout.
	ErrRemoteNotFound = fmt.Errorf("%w: not found", ErrRemoteRejected)
	// ErrTransport indicates the request never produced a response.
	ErrTransport = errors.New("syncengine: transport failure")
	// ErrRecordMissing indicates a queued create or update whose workout is
	// no longer stored locally.
	ErrRecordMissing = errors.New("syncengine: workout not found")
)

// RemoteError describes an error status returned by the remote authority.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the rejection class so errors.Is matches ErrRemoteRejected,
// and ErrRemoteNotFound for 404 responses.
func (e *RemoteError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrRemoteNotFound
	}
	return ErrRemoteRejected
}

// Remote is the remote authority contract consumed by the engine. Workouts
// are keyed by their client-generated id.
type Remote interface {
	Create(ctx context.Context, credential string, workout workouts.Workout) error
	Update(ctx context.Context, credential string, workout workouts.Workout) error
	Delete(ctx context.Context, credential string, workoutID string) error
}

// CredentialSource yields the bearer credential for remote calls. Guests
// have none.
type CredentialSource interface {
	Credential() (string, bool)
}

// Connectivity reports whether the remote authority is believed reachable.
type Connectivity interface {
	Online() bool
}

// AlwaysOnline is a Connectivity that never reports offline.
type AlwaysOnline struct{}

// Online implements Connectivity.
func (AlwaysOnline) Online() bool { return true }
