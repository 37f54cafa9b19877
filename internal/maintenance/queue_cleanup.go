package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mattjoyce/tapemaint/internal/log"
	"github.com/mattjoyce/tapemaint/internal/metrics"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

func routineLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return log.WithRoutine(name)
	}
	return logger.With("component", "maintenance", "routine", name)
}

// DeadMounts returns the scheduled mount ids that the catalogue does not
// report as active, sorted ascending. Both an empty active set and an
// empty scheduled set yield nothing: missing data never means dead.
func DeadMounts(active map[string]*uint64, scheduled []uint64) []uint64 {
	live := make(map[uint64]struct{}, len(active))
	for _, id := range active {
		if id != nil {
			live[*id] = struct{}{}
		}
	}
	if len(live) == 0 || len(scheduled) == 0 {
		return nil
	}

	var dead []uint64
	for _, id := range scheduled {
		if _, ok := live[id]; !ok {
			dead = append(dead, id)
		}
	}
	slices.Sort(dead)
	return slices.Compact(dead)
}

// QueueCleanupRoutine clears mount ownership of jobs whose mount is gone.
type QueueCleanupRoutine struct {
	name      string
	category  schedstore.Category
	catalogue MountCatalogue
	store     QueueStore
	batchSize int
	logger    *slog.Logger
}

// NewQueueCleanupRoutine builds the cleanup routine for category c. At most
// batchSize jobs are released per store transaction.
func NewQueueCleanupRoutine(c schedstore.Category, cat MountCatalogue, store QueueStore, batchSize int, logger *slog.Logger) *QueueCleanupRoutine {
	name := strings.ToLower(string(c)) + "queue_cleanup"
	return &QueueCleanupRoutine{
		name:      name,
		category:  c,
		catalogue: cat,
		store:     store,
		batchSize: batchSize,
		logger:    routineLogger(logger, name).With("category", string(c)),
	}
}

// NewQueueCleanupRoutines builds one cleanup routine per job category.
func NewQueueCleanupRoutines(cat MountCatalogue, store QueueStore, batchSize int, logger *slog.Logger) []Routine {
	var out []Routine
	for _, c := range schedstore.Categories() {
		out = append(out, NewQueueCleanupRoutine(c, cat, store, batchSize, logger))
	}
	return out
}

// Name is the lower-cased category prefix followed by "queue_cleanup",
// e.g. "archive_queue_cleanup".
func (r *QueueCleanupRoutine) Name() string { return r.name }

// Execute releases the jobs of category c held by mounts that no drive
// reports any more. Unknown mount state is a no-op.
func (r *QueueCleanupRoutine) Execute(ctx context.Context) error {
	active, err := r.catalogue.GetActiveMountIDs(ctx)
	if err != nil {
		return fmt.Errorf("get active mounts: %w", err)
	}
	if !hasLiveMount(active) {
		r.logger.Debug("No active mounts reported, skipping")
		return nil
	}

	scheduled, err := r.store.GetScheduledMountIDs(ctx, r.category)
	if err != nil {
		return fmt.Errorf("get scheduled mounts: %w", err)
	}
	dead := DeadMounts(active, scheduled)
	metrics.DeadMounts.WithLabelValues(string(r.category)).Set(float64(len(dead)))
	if len(dead) == 0 {
		return nil
	}

	r.logger.Info("Found jobs owned by dead mounts", "dead_mounts", dead, "batch_size", r.batchSize)
	n, err := r.store.HandleInactiveMountQueues(ctx, dead, r.category, r.batchSize)
	if err != nil {
		return fmt.Errorf("requeue jobs of dead mounts %v: %w", dead, err)
	}
	metrics.DeadMountJobsRequeued.WithLabelValues(string(r.category)).Add(float64(n))
	r.logger.Info("Requeued jobs of dead mounts", "dead_mounts", dead, "jobs", n)
	return nil
}

func hasLiveMount(active map[string]*uint64) bool {
	for _, id := range active {
		if id != nil {
			return true
		}
	}
	return false
}
