package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/syncengine"
	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
	"go.uber.org/zap"
)

var (
	errMissingTransactor = errors.New("identity: transactor is required")
	errMissingDrainer    = errors.New("identity: drainer is required")
	errMissingUserID     = errors.New("identity: user id is required")
)

// Drainer runs one sync pass.
type Drainer interface {
	Drain(ctx context.Context) syncengine.Result
}

// MigrationResult reports what a guest migration changed.
type MigrationResult struct {
	Migrated   bool              `json:"migrated"`
	Reassigned int               `json:"reassigned"`
	Queued     int               `json:"queued"`
	Success    bool              `json:"success"`
	Drain      syncengine.Result `json:"drain"`
}

// MigratorConfig describes the dependencies of a Migrator.
type MigratorConfig struct {
	Transactor *workouts.Transactor
	Drainer    Drainer
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Migrator re-owns guest workouts for a newly authenticated user.
type Migrator struct {
	transactor *workouts.Transactor
	drainer    Drainer
	clock      func() time.Time
	logger     *zap.Logger
}

// NewMigrator constructs a Migrator.
func NewMigrator(cfg MigratorConfig) (*Migrator, error) {
	if cfg.Transactor == nil {
		return nil, errMissingTransactor
	}
	if cfg.Drainer == nil {
		return nil, errMissingDrainer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{transactor: cfg.Transactor, drainer: cfg.Drainer, clock: clock, logger: logger}, nil
}

// Migrate reassigns every stored workout to userID and ensures each unsynced
// workout has a queued entry, in one storage write. It then drains once;
// drain failures leave entries queued and do not fail the migration.
func (m *Migrator) Migrate(ctx context.Context, userID string) (MigrationResult, error) {
	owner := strings.TrimSpace(userID)
	if owner == "" {
		return MigrationResult{}, errMissingUserID
	}
	now := m.clock().UTC()
	result := MigrationResult{}

	err := m.transactor.WithStorage(func(document *workouts.Document) error {
		result.Reassigned = 0
		result.Queued = 0
		for id, workout := range document.Workouts {
			if workout.OwnerID != owner {
				workout.OwnerID = owner
				workout.UpdatedAt = now
				document.Workouts[id] = workout
				result.Reassigned++
			}
			if workout.SyncStatus != workouts.SyncStatusSynced && document.SyncQueue.EnsureCreate(id, now) {
				result.Queued++
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("guest migration failed", zap.String("user_id", owner), zap.Error(err))
		return MigrationResult{}, err
	}

	result.Migrated = true
	result.Success = true
	m.logger.Info("guest workouts migrated",
		zap.String("user_id", owner),
		zap.Int("reassigned", result.Reassigned),
		zap.Int("queued", result.Queued))

	result.Drain = m.drainer.Drain(ctx)
	if !result.Drain.Success {
		m.logger.Warn("post-migration sync incomplete",
			zap.String("reason", string(result.Drain.Reason)),
			zap.Int("failed", result.Drain.Failed))
	}
	return result, nil
}
