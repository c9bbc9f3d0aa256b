package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSteps        = 20
	defaultStepInterval = time.Second
	// minSteps keeps at least one RUNNING step between QUEUED and DONE.
	minSteps = 2
)

// DriverConfig controls the mock run schedule.
//   - Steps: number of transitions after QUEUED/0; the last one is DONE/100 (default 20).
//   - StepInterval: delay before each transition (default 1s).
type DriverConfig struct {
	Steps        int
	StepInterval time.Duration
}

// Driver advances topics through QUEUED -> RUNNING -> DONE. At most one run
// exists per topic for the life of the process; the claim is recorded in the
// StateStore next to the snapshot it guards.
type Driver struct {
	cfg         DriverConfig
	store       *StateStore
	broadcaster *Broadcaster
	emitter     Emitter
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDriver builds a driver. Runs are canceled only by Stop.
func NewDriver(
	cfg DriverConfig,
	store *StateStore,
	broadcaster *Broadcaster,
	emitter Emitter,
	logger *zap.Logger,
) *Driver {
	if cfg.Steps <= 0 {
		cfg.Steps = defaultSteps
	}
	if cfg.Steps < minSteps {
		cfg.Steps = minSteps
	}
	if cfg.Steps > MaxProgress {
		cfg.Steps = MaxProgress
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = defaultStepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		cfg:         cfg,
		store:       store,
		broadcaster: broadcaster,
		emitter:     emitterOrNop(emitter),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches a run for topic. It is a no-op returning false when the topic
// already has a run or its snapshot is past progress 0.
func (d *Driver) Start(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if !d.store.claimDriver(topic) {
		return false
	}
	d.wg.Add(1)
	go d.run(topic)

	d.logger.Info("progress driver started", zap.String("topic", topic))
	d.emitter.Emit(Event{
		Topic:    topic,
		TS:       time.Now().UTC(),
		Kind:     KindDriverStart,
		Snapshot: Initial(),
	})
	return true
}

// Stop cancels running drivers and waits for them to exit or ctx to end.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress driver stop wait: %w", ctx.Err())
	}
}

func (d *Driver) run(topic string) {
	defer d.wg.Done()

	timer := time.NewTimer(d.cfg.StepInterval)
	defer timer.Stop()
	for step := 1; step <= d.cfg.Steps; step++ {
		select {
		case <-d.ctx.Done():
			d.logger.Info("progress driver canceled",
				zap.String("topic", topic),
				zap.Int("step", step),
			)
			last, ok := d.store.Get(topic)
			if !ok {
				last = Initial()
			}
			d.emitter.Emit(Event{
				Topic:    topic,
				TS:       time.Now().UTC(),
				Kind:     KindDriverCanceled,
				Snapshot: last,
			})
			return
		case <-timer.C:
		}

		snap := stepSnapshot(step, d.cfg.Steps)
		d.store.Set(topic, snap)
		reached := d.broadcaster.Broadcast(topic, snap.WithViewers)

		kind := KindStep
		if snap.Terminal() {
			kind = KindDriverDone
		}
		d.emitter.Emit(Event{
			Topic:    topic,
			TS:       time.Now().UTC(),
			Kind:     kind,
			Snapshot: snap,
			Viewers:  reached,
		})
		if step < d.cfg.Steps {
			timer.Reset(d.cfg.StepInterval)
		}
	}
	d.logger.Info("progress driver finished", zap.String("topic", topic))
}

// stepSnapshot maps step (1..steps) onto the progress scale. Intermediate
// steps are RUNNING and strictly between 0 and 100; the final step is DONE.
func stepSnapshot(step, steps int) Snapshot {
	if step >= steps {
		return Snapshot{Progress: MaxProgress, State: StateDone}
	}
	return Snapshot{Progress: step * MaxProgress / steps, State: StateRunning}
}
