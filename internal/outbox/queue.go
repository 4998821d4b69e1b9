// Package outbox implements the durable queue of not-yet-acknowledged
// mutations. The queue holds at most one entry per record id.
package outbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action enumerates the remote mutations a queued entry can carry.
type Action string

const (
	// ActionCreate uploads a record the remote authority has never seen.
	ActionCreate Action = "create"
	// ActionUpdate replaces the remote representation of a record.
	ActionUpdate Action = "update"
	// ActionDelete removes the record remotely.
	ActionDelete Action = "delete"
)

// DefaultMaxRetry is the number of failed attempts after which an entry is
// no longer drained automatically.
const DefaultMaxRetry = 3

// ErrInvalidAction indicates an unknown action string.
var ErrInvalidAction = errors.New("outbox: invalid action")

// ParseAction validates raw input and returns an Action.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionUpdate:
		return ActionUpdate, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// Entry is a pending mutation for a single record.
type Entry struct {
	RecordID   string    `json:"workoutId"`
	Action     Action    `json:"action"`
	EnqueuedAt time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
	LastError  *string   `json:"lastError"`
	// Revision increases every time the entry is replaced by a newer
	// mutation, so an in-flight drain can tell its snapshot is stale.
	Revision int64 `json:"revision,omitempty"`
}

// Exhausted reports whether the entry reached the retry ceiling.
func (e Entry) Exhausted(maxRetry int) bool {
	return e.RetryCount >= maxRetry
}

// SameAttempt reports whether other describes the same queued mutation.
func (e Entry) SameAttempt(other Entry) bool {
	return e.RecordID == other.RecordID &&
		e.Action == other.Action &&
		e.Revision == other.Revision &&
		e.EnqueuedAt.Equal(other.EnqueuedAt)
}

// Queue is the ordered outbox. It is a value type so that it serializes as
// part of the storage document.
type Queue []Entry

// Find returns the entry for recordID.
func (q Queue) Find(recordID string) (Entry, bool) {
	if index := q.indexOf(recordID); index >= 0 {
		return q[index], true
	}
	return Entry{}, false
}

// Enqueue records a mutation for recordID. A pending entry for the same
// record is replaced in place rather than appended, with its retry counter
// reset. A pending create absorbs later updates so the record is still
// created remotely; a delete overrides anything pending.
func (q *Queue) Enqueue(recordID string, action Action, at time.Time) Entry {
	index := q.indexOf(recordID)
	if index < 0 {
		entry := Entry{
			RecordID:   recordID,
			Action:     action,
			EnqueuedAt: at,
			RetryCount: 0,
			LastError:  nil,
		}
		*q = append(*q, entry)
		return entry
	}

	existing := (*q)[index]
	replaced := Entry{
		RecordID:   recordID,
		Action:     collapse(existing.Action, action),
		EnqueuedAt: at,
		RetryCount: 0,
		LastError:  nil,
		Revision:   existing.Revision + 1,
	}
	(*q)[index] = replaced
	return replaced
}

// EnsureCreate appends a create entry when recordID has nothing queued and
// reports whether it did.
func (q *Queue) EnsureCreate(recordID string, at time.Time) bool {
	if q.indexOf(recordID) >= 0 {
		return false
	}
	q.Enqueue(recordID, ActionCreate, at)
	return true
}

// Remove drops the entry for recordID and reports whether one existed.
func (q *Queue) Remove(recordID string) bool {
	index := q.indexOf(recordID)
	if index < 0 {
		return false
	}
	*q = append((*q)[:index], (*q)[index+1:]...)
	return true
}

// RecordFailure increments the retry counter for recordID and captures the
// error message. It returns the updated entry.
func (q Queue) RecordFailure(recordID string, message string) (Entry, bool) {
	index := q.indexOf(recordID)
	if index < 0 {
		return Entry{}, false
	}
	captured := message
	q[index].RetryCount++
	q[index].LastError = &captured
	return q[index], true
}

// ReplaceAction rewrites the action of the entry for recordID in place
// without touching its retry bookkeeping.
func (q Queue) ReplaceAction(recordID string, action Action) bool {
	index := q.indexOf(recordID)
	if index < 0 {
		return false
	}
	q[index].Action = action
	return true
}

// ResetExhausted clears the retry counter and last error of every entry at
// or above maxRetry and returns how many were reset.
func (q Queue) ResetExhausted(maxRetry int) int {
	reset := 0
	for index := range q {
		if q[index].Exhausted(maxRetry) {
			q[index].RetryCount = 0
			q[index].LastError = nil
			reset++
		}
	}
	return reset
}

// Counts splits the queue into drainable and exhausted entries.
func (q Queue) Counts(maxRetry int) (pending int, failed int) {
	for _, entry := range q {
		if entry.Exhausted(maxRetry) {
			failed++
		} else {
			pending++
		}
	}
	return pending, failed
}

// Clone returns an independent copy of the queue.
func (q Queue) Clone() Queue {
	if q == nil {
		return nil
	}
	cloned := make(Queue, len(q))
	for index, entry := range q {
		if entry.LastError != nil {
			message := *entry.LastError
			entry.LastError = &message
		}
		cloned[index] = entry
	}
	return cloned
}

func (q Queue) indexOf(recordID string) int {
	for index, entry := range q {
		if entry.RecordID == recordID {
			return index
		}
	}
	return -1
}

func collapse(existing Action, incoming Action) Action {
	switch {
	case incoming == ActionDelete:
		return ActionDelete
	case existing == ActionCreate:
		return ActionCreate
	default:
		return incoming
	}
}
