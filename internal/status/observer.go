package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/events"
	"github.com/MarcoPoloResearchLab/irontemple/internal/outbox"
	"github.com/MarcoPoloResearchLab/irontemple/internal/syncengine"
	"go.uber.org/zap"
)

// DisplayStatus is the single status shown to the user.
type DisplayStatus string

const (
	DisplayOffline DisplayStatus = "offline"
	DisplaySyncing DisplayStatus = "syncing"
	DisplayFailed  DisplayStatus = "failed"
	DisplayPending DisplayStatus = "pending"
	DisplaySynced  DisplayStatus = "synced"
)

// DefaultPollInterval is the safety-net poll period.
const DefaultPollInterval = 5 * time.Second

var (
	errMissingEngine       = errors.New("status: engine is required")
	errMissingConnectivity = errors.New("status: connectivity is required")
	errMissingSubscriber   = errors.New("status: event subscriber is required")
)

// Derive applies the display precedence offline > syncing > failed >
// pending > synced.
func Derive(online, syncing bool, queue outbox.Status) DisplayStatus {
	switch {
	case !online:
		return DisplayOffline
	case syncing:
		return DisplaySyncing
	case queue.Failed > 0:
		return DisplayFailed
	case queue.Pending > 0:
		return DisplayPending
	default:
		return DisplaySynced
	}
}

// Snapshot is the observer's latest view.
type Snapshot struct {
	Display   DisplayStatus
	Online    bool
	Syncing   bool
	Queue     outbox.Status
	LastDrain *syncengine.Result
}

// Engine is the part of the sync engine the observer drives.
type Engine interface {
	Drain(ctx context.Context) syncengine.Result
	Status() outbox.Status
	Syncing() bool
}

// ObserverConfig describes the dependencies of an Observer.
type ObserverConfig struct {
	Engine       Engine
	Connectivity *Connectivity
	Events       events.Subscriber
	PollInterval time.Duration
	// OnChange runs whenever the display status changes.
	OnChange func(Snapshot)
	Logger   *zap.Logger
}

// Observer triggers drains on reconnect, on records-changed events while
// online and on poll ticks with untried entries.
type Observer struct {
	engine       Engine
	connectivity *Connectivity
	events       events.Subscriber
	pollInterval time.Duration
	onChange     func(Snapshot)
	logger       *zap.Logger

	mu       sync.Mutex
	snapshot Snapshot
	drains   sync.WaitGroup
}

// NewObserver constructs an Observer.
func NewObserver(cfg ObserverConfig) (*Observer, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Connectivity == nil {
		return nil, errMissingConnectivity
	}
	if cfg.Events == nil {
		return nil, errMissingSubscriber
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := &Observer{
		engine:       cfg.Engine,
		connectivity: cfg.Connectivity,
		events:       cfg.Events,
		pollInterval: interval,
		onChange:     cfg.OnChange,
		logger:       logger,
	}
	observer.snapshot = observer.compute(nil)
	return observer, nil
}

// Snapshot returns the latest view.
func (o *Observer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// Run processes notifications until ctx ends and waits for any drain it
// started.
func (o *Observer) Run(ctx context.Context) error {
	stream, unsubscribe := o.events.Subscribe(ctx)
	defer unsubscribe()
	transitions, stopTransitions := o.connectivity.Transitions(ctx)
	defer stopTransitions()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	defer o.drains.Wait()

	o.refresh(nil)
	if o.connectivity.Online() {
		o.triggerDrain(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-transitions:
			if !ok {
				return ctx.Err()
			}
			o.logger.Info("connectivity transition", zap.Bool("online", online))
			o.refresh(nil)
			if online {
				o.triggerDrain(ctx, "reconnect")
			}
		case event, ok := <-stream:
			if !ok {
				return ctx.Err()
			}
			o.refresh(nil)
			if event.Kind == events.KindRecordsChanged && o.connectivity.Online() {
				o.triggerDrain(ctx, "records-changed")
			}
		case <-ticker.C:
			current := o.refresh(nil)
			if current.Online && current.Queue.Fresh > 0 {
				o.triggerDrain(ctx, "poll")
			}
		}
	}
}

func (o *Observer) triggerDrain(ctx context.Context, trigger string) {
	o.drains.Add(1)
	go func() {
		defer o.drains.Done()
		o.refresh(nil)
		result := o.engine.Drain(context.WithoutCancel(ctx))
		o.logger.Debug("drain triggered",
			zap.String("trigger", trigger),
			zap.Bool("success", result.Success),
			zap.String("reason", string(result.Reason)),
			zap.Int("synced", result.Synced),
			zap.Int("failed", result.Failed))
		if result.Reason == syncengine.ReasonAlreadySyncing {
			return
		}
		o.refresh(&result)
	}()
}

func (o *Observer) refresh(drain *syncengine.Result) Snapshot {
	next := o.compute(drain)
	o.mu.Lock()
	if drain == nil {
		next.LastDrain = o.snapshot.LastDrain
	}
	changed := next.Display != o.snapshot.Display
	o.snapshot = next
	o.mu.Unlock()
	if changed && o.onChange != nil {
		o.onChange(next)
	}
	return next
}

func (o *Observer) compute(drain *syncengine.Result) Snapshot {
	online := o.connectivity.Online()
	syncing := o.engine.Syncing()
	queue := o.engine.Status()
	return Snapshot{
		Display:   Derive(online, syncing, queue),
		Online:    online,
		Syncing:   syncing,
		Queue:     queue,
		LastDrain: drain,
	}
}
