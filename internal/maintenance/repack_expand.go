package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/tapemaint/internal/metrics"
	"github.com/mattjoyce/tapemaint/internal/repack"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

// markFailedTimeout bounds the best-effort failure write, which runs even
// after the routine's own context has expired.
const markFailedTimeout = 10 * time.Second

// RepackExpandRoutine promotes pending repack requests and expands at most
// one of them per Execute.
type RepackExpandRoutine struct {
	queue     RepackQueue
	expander  Expander
	maxExpand int
	logger    *slog.Logger
}

// NewRepackExpandRoutine keeps at most maxRequestsToExpand requests waiting
// for expansion.
func NewRepackExpandRoutine(queue RepackQueue, expander Expander, maxRequestsToExpand int, logger *slog.Logger) *RepackExpandRoutine {
	return &RepackExpandRoutine{
		queue:     queue,
		expander:  expander,
		maxExpand: maxRequestsToExpand,
		logger:    routineLogger(logger, "repack_expand"),
	}
}

func (r *RepackExpandRoutine) Name() string { return "repack_expand" }

// Execute reclaims stalled expansions, promotes pending requests, then
// claims and expands one request.
func (r *RepackExpandRoutine) Execute(ctx context.Context) error {
	reclaimed, err := r.queue.ReclaimStaleRepackRequests(ctx)
	if err != nil {
		return fmt.Errorf("reclaim stalled repack requests: %w", err)
	}
	if len(reclaimed) > 0 {
		metrics.RepackExpansions.WithLabelValues("reclaimed").Add(float64(len(reclaimed)))
		r.logger.Warn("Reclaimed stalled repack expansions", "vids", reclaimed)
	}

	stats, err := r.queue.PromotePendingRepackRequests(ctx, r.maxExpand)
	if err != nil {
		return fmt.Errorf("promote repack requests: %w", err)
	}
	if stats.Promoted > 0 {
		metrics.RepackPromoted.Add(float64(stats.Promoted))
		r.logger.Info("Promoted repack requests",
			"promoted", stats.Promoted,
			"pending_before", stats.Pending,
			"to_expand_before", stats.ToExpand,
			"starting_before", stats.Starting,
			"max_requests_to_expand", r.maxExpand,
		)
	}

	req, err := r.queue.GetNextRepackRequestToExpand(ctx)
	if err != nil {
		return fmt.Errorf("claim repack request: %w", err)
	}
	if req == nil {
		return nil
	}

	logger := r.logger.With("vid", req.VID, "repack_id", req.ID)
	out, err := r.expander.Expand(ctx, req)
	if err == nil {
		metrics.RepackExpansions.WithLabelValues("expanded").Inc()
		logger.Info("Expanded repack request",
			"files", out.Files,
			"jobs_queued", out.Queued,
			"last_expanded_fseq", out.LastExpandedFSeq,
			"buffer_dir", out.BufferDir,
		)
		return nil
	}

	var expandErr *repack.ExpandError
	switch {
	case errors.As(err, &expandErr):
		metrics.RepackExpansions.WithLabelValues("failed").Inc()
		logger.Error("Repack expansion failed", "error", err)
		r.markFailed(ctx, logger, req.ID, expandErr.Reason)
		return nil
	case errors.Is(err, schedstore.ErrNoSuchObject):
		metrics.RepackExpansions.WithLabelValues("vanished").Inc()
		logger.Warn("Repack request disappeared during expansion", "error", err)
		return nil
	default:
		metrics.RepackExpansions.WithLabelValues("failed").Inc()
		r.markFailed(ctx, logger, req.ID, err.Error())
		return fmt.Errorf("expand repack %s: %w", req.VID, err)
	}
}

// markFailed records the failure on a context detached from ctx, so an
// expired routine deadline does not leave the request stuck in Starting.
func (r *RepackExpandRoutine) markFailed(ctx context.Context, logger *slog.Logger, id, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	err := r.queue.MarkRepackFailed(ctx, id, reason)
	switch {
	case err == nil:
	case errors.Is(err, schedstore.ErrNoSuchObject):
		logger.Warn("Repack request disappeared before it could be marked failed")
	default:
		logger.Error("Failed to mark repack request failed", "error", err)
	}
}
