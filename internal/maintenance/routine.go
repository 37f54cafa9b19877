package maintenance

import (
	"context"
	"time"

	"github.com/mattjoyce/tapemaint/internal/objectstore"
	"github.com/mattjoyce/tapemaint/internal/repack"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

//go:generate mockgen -destination=mocks/mock_maintenance.go -package=mocks github.com/mattjoyce/tapemaint/internal/maintenance MountCatalogue,QueueStore,RetentionStore,RepackQueue,Expander,ReportSource,ReportBatch,GarbageCollector

// Routine is one unit of periodic maintenance. Execute runs one bounded
// step and must be safe to re-run after a crash or a concurrent daemon.
type Routine interface {
	Name() string
	Execute(ctx context.Context) error
}

// MountCatalogue reports which drives currently hold a live mount.
type MountCatalogue interface {
	GetActiveMountIDs(ctx context.Context) (map[string]*uint64, error)
}

// QueueStore is the part of the scheduler store that tracks job ownership.
type QueueStore interface {
	GetScheduledMountIDs(ctx context.Context, c schedstore.Category) ([]uint64, error)
	HandleInactiveMountQueues(ctx context.Context, dead []uint64, c schedstore.Category, batchSize int) (int64, error)
}

// RetentionStore prunes rows nobody will look at again.
type RetentionStore interface {
	DeleteOldFailedQueues(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error)
	CleanOldMountLastFetchTimes(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error)
}

// RepackQueue drives repack requests through promotion and expansion.
type RepackQueue interface {
	PromotePendingRepackRequests(ctx context.Context, max int) (schedstore.PromotionStats, error)
	GetNextRepackRequestToExpand(ctx context.Context) (*schedstore.RepackRequest, error)
	MarkRepackFailed(ctx context.Context, id, reason string) error
	ReclaimStaleRepackRequests(ctx context.Context) ([]string, error)
}

// Expander turns a claimed repack request into sub-jobs.
type Expander interface {
	Expand(ctx context.Context, req *schedstore.RepackRequest) (repack.Outcome, error)
}

// ReportBatch is a claimed set of repack sub-job outcomes.
type ReportBatch interface {
	Empty() bool
	Report(ctx context.Context) error
}

// ReportSource hands out report batches of one kind at a time.
type ReportSource interface {
	FetchReportBatch(ctx context.Context, kind schedstore.ReportKind, max int) (ReportBatch, error)
}

// GarbageCollector runs one object store collection pass.
type GarbageCollector interface {
	RunOnePass(ctx context.Context) (objectstore.GCStats, error)
}

type storeReports struct {
	store *schedstore.Store
}

// ReportsFrom adapts a scheduler store to ReportSource.
func ReportsFrom(store *schedstore.Store) ReportSource {
	return storeReports{store: store}
}

func (r storeReports) FetchReportBatch(ctx context.Context, kind schedstore.ReportKind, max int) (ReportBatch, error) {
	b, err := r.store.FetchRepackReportBatch(ctx, kind, max)
	if err != nil {
		return nil, err
	}
	return b, nil
}
