package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/tapemaint/internal/metrics"
)

// GCRoutine runs one object store garbage collection pass per cycle.
type GCRoutine struct {
	gc     GarbageCollector
	logger *slog.Logger
}

// NewGCRoutine wraps gc so that each cycle runs exactly one pass.
func NewGCRoutine(gc GarbageCollector, logger *slog.Logger) *GCRoutine {
	return &GCRoutine{gc: gc, logger: routineLogger(logger, "garbage_collector")}
}

func (r *GCRoutine) Name() string { return "garbage_collector" }

// Execute runs one collection pass and logs what it released.
func (r *GCRoutine) Execute(ctx context.Context) error {
	stats, err := r.gc.RunOnePass(ctx)
	if err != nil {
		return fmt.Errorf("garbage collection pass: %w", err)
	}
	metrics.GCAgentsCollected.Add(float64(stats.AgentsCollected))
	metrics.GCObjectsReleased.Add(float64(stats.ObjectsReleased))
	if stats.AgentsCollected > 0 {
		r.logger.Info("Collected dead agents",
			"agents", stats.AgentsCollected,
			"objects_released", stats.ObjectsReleased,
		)
	}
	return nil
}
