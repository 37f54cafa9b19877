package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mattjoyce/tapemaint/internal/events"
	"github.com/mattjoyce/tapemaint/internal/metrics"
)

// Exit codes returned by Run.
const (
	ExitClean       = 0
	ExitInterrupted = 1
)

// RoutineStatus is the last observed outcome of one routine.
type RoutineStatus struct {
	Name         string        `json:"name"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time view of the runner for status endpoints.
type Snapshot struct {
	StartedAt      time.Time       `json:"started_at"`
	Cycles         uint64          `json:"cycles"`
	CurrentRoutine string          `json:"current_routine,omitempty"`
	Stopping       bool            `json:"stopping"`
	Routines       []RoutineStatus `json:"routines"`
}

// Runner executes registered routines sequentially, once per cycle, until
// asked to stop.
type Runner struct {
	interval    time.Duration
	hardTimeout time.Duration
	logger      *slog.Logger
	events      *events.Hub
	now         func() time.Time

	stopping atomic.Bool
	started  atomic.Bool
	wake     chan struct{}
	cycles   atomic.Uint64

	mu        sync.RWMutex
	routines  []Routine
	status    []RoutineStatus
	current   string
	startedAt time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHardTimeout bounds each Execute call with a context deadline.
// Zero leaves routines unbounded.
func WithHardTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.hardTimeout = d
		}
	}
}

// WithEvents publishes cycle and routine events to hub.
func WithEvents(hub *events.Hub) RunnerOption {
	return func(r *Runner) {
		if hub != nil {
			r.events = hub
		}
	}
}

// NewRunner builds a runner that starts a cycle every interval.
func NewRunner(interval time.Duration, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		interval: interval,
		logger:   logger.With("component", "runner"),
		events:   events.NewHub(256),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a routine. Registration order is execution order and is
// fixed once Run has started; later registrations are logged and ignored.
func (r *Runner) Register(rt Routine) {
	if r.started.Load() {
		r.logger.Error("Routine registered after the runner started, ignoring", "routine", rt.Name())
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routines = append(r.routines, rt)
	r.status = append(r.status, RoutineStatus{Name: rt.Name()})
}

// Events returns the hub the runner publishes to.
func (r *Runner) Events() *events.Hub {
	return r.events
}

// Stop asks Run to return after the current cycle. It never interrupts a
// routine in progress.
func (r *Runner) Stop() {
	if r.stopping.CompareAndSwap(false, true) {
		r.logger.Info("Termination requested, finishing current cycle")
		r.events.Publish(events.DaemonStopping, nil)
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stopping reports whether Stop has been called.
func (r *Runner) Stopping() bool {
	return r.stopping.Load()
}

// Run loops over cycles until Stop is called or ctx ends. It returns
// ExitClean after a requested stop and ExitInterrupted when ctx ended
// without one.
func (r *Runner) Run(ctx context.Context) int {
	r.started.Store(true)
	r.mu.Lock()
	r.startedAt = r.now()
	count := len(r.routines)
	r.mu.Unlock()
	r.logger.Info("Starting maintenance runner", "routines", count, "cycle_interval", r.interval.String())

	for {
		cycleStart := r.now()
		r.RunCycle(ctx)

		if r.stopping.Load() {
			r.logger.Info("Maintenance runner stopped", "cycles", r.cycles.Load())
			return ExitClean
		}

		timer := time.NewTimer(r.sleepAfter(r.now().Sub(cycleStart)))
		select {
		case <-timer.C:
		case <-r.wake:
		case <-ctx.Done():
		}
		timer.Stop()

		if r.stopping.Load() {
			r.logger.Info("Maintenance runner stopped", "cycles", r.cycles.Load())
			return ExitClean
		}
		if ctx.Err() != nil {
			r.logger.Warn("Maintenance runner context cancelled", "error", ctx.Err())
			return ExitInterrupted
		}
	}
}

// sleepAfter is the pause before the next cycle: the interval less the time
// the last cycle took, never negative.
func (r *Runner) sleepAfter(elapsed time.Duration) time.Duration {
	return max(0, r.interval-elapsed)
}

// RunCycle executes every registered routine once, in order. A failing
// routine is logged and the next one still runs.
func (r *Runner) RunCycle(ctx context.Context) {
	r.mu.RLock()
	routines := make([]Routine, len(r.routines))
	copy(routines, r.routines)
	r.mu.RUnlock()

	cycle := r.cycles.Load() + 1
	cycleStart := r.now()
	r.events.Publish(events.CycleStarted, map[string]any{"cycle": cycle})

	failures := 0
	for i, rt := range routines {
		if ctx.Err() != nil {
			r.logger.Warn("Context cancelled, abandoning cycle", "cycle", cycle, "remaining", len(routines)-i)
			break
		}
		if err := r.runOne(ctx, i, rt); err != nil {
			failures++
		}
	}

	r.mu.Lock()
	r.current = ""
	r.mu.Unlock()
	r.cycles.Inc()
	metrics.Cycles.Inc()

	elapsed := r.now().Sub(cycleStart)
	r.events.Publish(events.CycleCompleted, map[string]any{
		"cycle":       cycle,
		"failures":    failures,
		"duration_ms": elapsed.Milliseconds(),
	})
	r.logger.Debug("Maintenance cycle completed", "cycle", cycle, "failures", failures, "duration_ms", elapsed.Milliseconds())
}

func (r *Runner) runOne(ctx context.Context, idx int, rt Routine) error {
	name := rt.Name()
	r.mu.Lock()
	r.current = name
	r.mu.Unlock()

	start := r.now()
	panicked, err := r.execute(ctx, rt)
	elapsed := r.now().Sub(start)

	outcome := "success"
	switch {
	case panicked:
		outcome = "panic"
	case err != nil:
		outcome = "error"
	}
	metrics.RoutineRuns.WithLabelValues(name, outcome).Inc()
	metrics.RoutineDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	r.mu.Lock()
	st := &r.status[idx]
	st.Runs++
	st.LastRun = start.UTC()
	st.LastDuration = elapsed
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Routine failed", "routine", name, "duration_ms", elapsed.Milliseconds(), "outcome", outcome, "error", err)
		r.events.Publish(events.RoutineFailed, map[string]any{
			"routine":     name,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		return err
	}
	r.logger.Info("Routine completed", "routine", name, "duration_ms", elapsed.Milliseconds(), "outcome", outcome)
	r.events.Publish(events.RoutineCompleted, map[string]any{
		"routine":     name,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

func (r *Runner) execute(ctx context.Context, rt Routine) (panicked bool, err error) {
	if r.hardTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.hardTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("routine %s panicked: %v", rt.Name(), p)
			panicked = true
		}
	}()
	return false, rt.Execute(ctx)
}

// Snapshot returns the current runner state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		StartedAt:      r.startedAt,
		Cycles:         r.cycles.Load(),
		CurrentRoutine: r.current,
		Stopping:       r.stopping.Load(),
		Routines:       make([]RoutineStatus, len(r.status)),
	}
	copy(out.Routines, r.status)
	return out
}
