package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/tapemaint/internal/metrics"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

// RepackReportRoutine folds finished repack sub-jobs back into their
// requests. Each report kind gets its own soft time budget.
type RepackReportRoutine struct {
	source      ReportSource
	softTimeout time.Duration
	batchSize   int
	now         func() time.Time
	logger      *slog.Logger
}

// NewRepackReportRoutine reports at most batchSize rows per batch and
// spends at most softTimeout on each report kind.
func NewRepackReportRoutine(source ReportSource, softTimeout time.Duration, batchSize int, logger *slog.Logger) *RepackReportRoutine {
	return &RepackReportRoutine{
		source:      source,
		softTimeout: softTimeout,
		batchSize:   batchSize,
		now:         time.Now,
		logger:      routineLogger(logger, "repack_report"),
	}
}

func (r *RepackReportRoutine) Name() string { return "repack_report" }

// Execute drains every report kind in turn. A summary is logged only when
// at least one batch was reported.
func (r *RepackReportRoutine) Execute(ctx context.Context) error {
	start := r.now()
	batches := make(map[schedstore.ReportKind]int)
	total := 0

	for _, kind := range schedstore.ReportKinds() {
		n, err := r.reportKind(ctx, kind)
		batches[kind] = n
		total += n
		if err != nil {
			return err
		}
	}

	if total > 0 {
		attrs := []any{"batches", total, "duration_ms", r.now().Sub(start).Milliseconds()}
		for _, kind := range schedstore.ReportKinds() {
			attrs = append(attrs, string(kind), batches[kind])
		}
		r.logger.Info("Reported repack sub-jobs", attrs...)
	}
	return nil
}

func (r *RepackReportRoutine) reportKind(ctx context.Context, kind schedstore.ReportKind) (int, error) {
	start := r.now()
	count := 0
	for r.now().Sub(start) < r.softTimeout {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		batch, err := r.source.FetchReportBatch(ctx, kind, r.batchSize)
		if err != nil {
			return count, fmt.Errorf("fetch %s report batch: %w", kind, err)
		}
		if batch == nil || batch.Empty() {
			break
		}
		if err := batch.Report(ctx); err != nil {
			return count, fmt.Errorf("report %s batch: %w", kind, err)
		}
		count++
		metrics.RepackReportBatches.WithLabelValues(string(kind)).Inc()
	}
	return count, nil
}
