package outbox

import "time"

// Health is the aggregate queue classification.
type Health string

const (
	HealthSynced  Health = "synced"
	HealthPending Health = "pending"
	HealthFailed  Health = "failed"
)

// Status summarizes the queue for display.
type Status struct {
	Pending int
	Failed  int
	Total   int
	// Fresh counts pending entries that have never failed an attempt.
	Fresh             int
	LastSyncTimestamp *time.Time
	Health            Health
}

// Summarize computes the Status of q.
func Summarize(q Queue, maxRetry int, lastSync *time.Time) Status {
	pending, failed := q.Counts(maxRetry)
	fresh := 0
	for _, entry := range q {
		if entry.RetryCount == 0 {
			fresh++
		}
	}
	health := HealthSynced
	switch {
	case failed > 0:
		health = HealthFailed
	case pending > 0:
		health = HealthPending
	}
	return Status{
		Pending:           pending,
		Failed:            failed,
		Total:             len(q),
		Fresh:             fresh,
		LastSyncTimestamp: lastSync,
		Health:            health,
	}
}
