package schedstore

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func submitRepack(t *testing.T, s *Store, vid string) string {
	t.Helper()
	id, err := s.QueueRepack(context.Background(), SubmitRepackRequest{
		VID:         vid,
		Type:        RepackMoveAndAddCopies,
		BufferURL:   "file://" + t.TempDir(),
		SubmittedBy: "operator",
	})
	if err != nil {
		t.Fatalf("QueueRepack(%s): %v", vid, err)
	}
	return id
}

func TestQueueRepackValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)

	tests := []struct {
		name string
		req  SubmitRepackRequest
	}{
		{name: "empty vid", req: SubmitRepackRequest{Type: RepackMoveOnly, BufferURL: "/b"}},
		{name: "bad type", req: SubmitRepackRequest{VID: "V1", Type: "SHRED", BufferURL: "/b"}},
		{name: "no buffer", req: SubmitRepackRequest{VID: "V1", Type: RepackMoveOnly}},
	}
	for _, tt := range tests {
		if _, err := s.QueueRepack(ctx, tt.req); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}

	submitRepack(t, s, "V001")
	_, err := s.QueueRepack(ctx, SubmitRepackRequest{VID: "V001", Type: RepackMoveOnly, BufferURL: "/b"})
	if !errors.Is(err, ErrRepackExists) {
		t.Fatalf("expected ErrRepackExists, got %v", err)
	}
}

func TestPromotePendingRepackRequestsRespectsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := openTestStore(t)

	for _, vid := range []string{"V001", "V002", "V003", "V004"} {
		submitRepack(t, s, vid)
		clock.Advance(time.Second)
	}

	stats, err := s.PromotePendingRepackRequests(ctx, 2)
	if err != nil {
		t.Fatalf("PromotePendingRepackRequests: %v", err)
	}
	if stats.Pending != 4 || stats.Promoted != 2 {
		t.Fatalf("unexpected first promotion: %+v", stats)
	}

	// Nothing more may be promoted while two requests wait for expansion.
	stats, err = s.PromotePendingRepackRequests(ctx, 2)
	if err != nil {
		t.Fatalf("PromotePendingRepackRequests: %v", err)
	}
	if stats.ToExpand != 2 || stats.Promoted != 0 {
		t.Fatalf("unexpected second promotion: %+v", stats)
	}

	next, err := s.GetNextRepackRequestToExpand(ctx)
	if err != nil {
		t.Fatalf("GetNextRepackRequestToExpand: %v", err)
	}
	if next == nil || next.VID != "V001" || next.Status != RepackStarting || !next.ExpandStarted {
		t.Fatalf("unexpected claimed request: %+v", next)
	}

	// Starting still counts against the limit.
	stats, _ = s.PromotePendingRepackRequests(ctx, 2)
	if stats.Promoted != 0 || stats.Starting != 1 {
		t.Fatalf("unexpected promotion with a Starting request: %+v", stats)
	}

	if err := s.SetRepackExpanding(ctx, next.ID); err != nil {
		t.Fatalf("SetRepackExpanding: %v", err)
	}
	stats, _ = s.PromotePendingRepackRequests(ctx, 2)
	if stats.Promoted != 1 {
		t.Fatalf("expected one promotion after expansion began, got %+v", stats)
	}

	counts, err := s.GetRepackStatistics(ctx)
	if err != nil {
		t.Fatalf("GetRepackStatistics: %v", err)
	}
	if counts[RepackExpanding] != 1 || counts[RepackToExpand] != 2 || counts[RepackPending] != 1 {
		t.Fatalf("unexpected statistics: %v", counts)
	}
}

func TestGetNextRepackRequestToExpandEmpty(t *testing.T) {
	t.Parallel()
	s, _ := openTestStore(t)
	submitRepack(t, s, "V001")

	next, err := s.GetNextRepackRequestToExpand(context.Background())
	if err != nil {
		t.Fatalf("GetNextRepackRequestToExpand: %v", err)
	}
	if next != nil {
		t.Fatalf("a Pending request must not be claimed, got %+v", next)
	}
}

func TestAddSubrequestsAndUpdateStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)
	id := submitRepack(t, s, "V001")

	result := ExpansionResult{
		LastExpandedFSeq: 3,
		Subrequests: []RepackSubrequest{
			{ArchiveFileID: 1, FSeq: 1, SizeInBytes: 100, Copies: []RearchiveCopy{{CopyNb: 1, TapePool: "pool-a"}}, BufferURL: "/buffer/V001/000000001"},
			{ArchiveFileID: 2, FSeq: 2, SizeInBytes: 200, Copies: []RearchiveCopy{{CopyNb: 1, TapePool: "pool-a"}, {CopyNb: 2, TapePool: "pool-b"}}, BufferURL: "/buffer/V001/000000002"},
			{ArchiveFileID: 3, FSeq: 3, SizeInBytes: 300, Copies: []RearchiveCopy{{CopyNb: 1, TapePool: "pool-a"}}, UserProvided: true, BufferURL: "/buffer/V001/000000003"},
		},
		Totals: RepackStats{
			FilesToRetrieve: 2, BytesToRetrieve: 300,
			FilesToArchive: 4, BytesToArchive: 800,
			UserProvidedFiles: 1, UserProvidedBytes: 300,
		},
	}
	queued, err := s.AddSubrequestsAndUpdateStats(ctx, id, result)
	if err != nil {
		t.Fatalf("AddSubrequestsAndUpdateStats: %v", err)
	}
	if queued != 3 {
		t.Fatalf("expected 3 jobs queued, got %d", queued)
	}

	retrieves, _ := s.ListJobs(ctx, CategoryRepackRetrieve, QueuePending, 10)
	if len(retrieves) != 2 || retrieves[1].VID != "V001" || len(retrieves[1].RearchiveCopies) != 2 {
		t.Fatalf("unexpected retrieve jobs: %+v", retrieves)
	}
	archives, _ := s.ListJobs(ctx, CategoryRepackArchive, QueuePending, 10)
	if len(archives) != 1 || archives[0].TapePool != "pool-a" || archives[0].RepackRequestID != id {
		t.Fatalf("unexpected archive jobs: %+v", archives)
	}

	r, err := s.GetRepackRequest(ctx, "V001")
	if err != nil {
		t.Fatalf("GetRepackRequest: %v", err)
	}
	if r.Status != RepackExpanding || !r.ExpandFinished || r.LastExpandedFSeq != 3 {
		t.Fatalf("unexpected request state: %+v", r)
	}
	if r.Stats.FilesToArchive != 4 || r.Stats.UserProvidedFiles != 1 {
		t.Fatalf("unexpected stats: %+v", r.Stats)
	}
}

func TestAddSubrequestsWithNothingToDoFinishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)
	id := submitRepack(t, s, "V001")

	if _, err := s.AddSubrequestsAndUpdateStats(ctx, id, ExpansionResult{}); err != nil {
		t.Fatalf("AddSubrequestsAndUpdateStats: %v", err)
	}
	r, _ := s.GetRepackRequest(ctx, "V001")
	if r.Status != RepackDone {
		t.Fatalf("expected Done, got %s", r.Status)
	}
}

func TestRepackOperationsOnDeletedRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)
	id := submitRepack(t, s, "V001")

	if err := s.CancelRepack(ctx, "V001"); err != nil {
		t.Fatalf("CancelRepack: %v", err)
	}
	if err := s.CancelRepack(ctx, "V001"); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("expected ErrNoSuchObject, got %v", err)
	}
	if err := s.SetRepackExpanding(ctx, id); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("SetRepackExpanding: expected ErrNoSuchObject, got %v", err)
	}
	if err := s.MarkRepackFailed(ctx, id, "boom"); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("MarkRepackFailed: expected ErrNoSuchObject, got %v", err)
	}
	if _, err := s.AddSubrequestsAndUpdateStats(ctx, id, ExpansionResult{}); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("AddSubrequestsAndUpdateStats: expected ErrNoSuchObject, got %v", err)
	}
	if _, err := s.GetRepackRequest(ctx, "V001"); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("GetRepackRequest: expected ErrNoSuchObject, got %v", err)
	}
}

func TestCancelRepackRemovesSubJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)
	id := submitRepack(t, s, "V001")

	_, err := s.AddSubrequestsAndUpdateStats(ctx, id, ExpansionResult{
		Subrequests: []RepackSubrequest{{ArchiveFileID: 1, FSeq: 1, SizeInBytes: 10, Copies: []RearchiveCopy{{CopyNb: 1, TapePool: "p"}}}},
		Totals:      RepackStats{FilesToRetrieve: 1, BytesToRetrieve: 10, FilesToArchive: 1, BytesToArchive: 10},
	})
	if err != nil {
		t.Fatalf("AddSubrequestsAndUpdateStats: %v", err)
	}
	if err := s.CancelRepack(ctx, "V001"); err != nil {
		t.Fatalf("CancelRepack: %v", err)
	}
	if n := countRows(t, s, CategoryRepackRetrieve.Table(QueuePending)); n != 0 {
		t.Fatalf("expected sub-jobs removed, got %d", n)
	}
}

func TestReclaimStaleRepackRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := openTestStore(t, WithExpandReclaimDelay(30*time.Minute))

	for _, vid := range []string{"V001", "V002", "V003"} {
		submitRepack(t, s, vid)
		clock.Advance(time.Second)
	}
	if _, err := s.PromotePendingRepackRequests(ctx, 3); err != nil {
		t.Fatalf("PromotePendingRepackRequests: %v", err)
	}
	// V001 stays Starting, V002 reaches Expanding, V003 finishes expanding.
	var claimed []*RepackRequest
	for i := 0; i < 3; i++ {
		r, err := s.GetNextRepackRequestToExpand(ctx)
		if err != nil || r == nil {
			t.Fatalf("GetNextRepackRequestToExpand: %v, %v", r, err)
		}
		claimed = append(claimed, r)
	}
	for _, r := range claimed[1:] {
		if err := s.SetRepackExpanding(ctx, r.ID); err != nil {
			t.Fatalf("SetRepackExpanding: %v", err)
		}
	}
	if _, err := s.AddSubrequestsAndUpdateStats(ctx, claimed[2].ID, ExpansionResult{}); err != nil {
		t.Fatalf("AddSubrequestsAndUpdateStats: %v", err)
	}

	vids, err := s.ReclaimStaleRepackRequests(ctx)
	if err != nil {
		t.Fatalf("ReclaimStaleRepackRequests: %v", err)
	}
	if len(vids) != 0 {
		t.Fatalf("fresh claims must not be reclaimed, got %v", vids)
	}

	clock.Advance(31 * time.Minute)
	vids, err = s.ReclaimStaleRepackRequests(ctx)
	if err != nil {
		t.Fatalf("ReclaimStaleRepackRequests: %v", err)
	}
	if !slices.Equal(vids, []string{"V001", "V002"}) {
		t.Fatalf("expected V001 and V002 reclaimed, got %v", vids)
	}
	for _, vid := range vids {
		r, err := s.GetRepackRequest(ctx, vid)
		if err != nil {
			t.Fatalf("GetRepackRequest(%s): %v", vid, err)
		}
		if r.Status != RepackToExpand {
			t.Fatalf("%s: expected ToExpand, got %s", vid, r.Status)
		}
	}
	r, err := s.GetRepackRequest(ctx, "V003")
	if err != nil {
		t.Fatalf("GetRepackRequest(V003): %v", err)
	}
	if r.Status == RepackToExpand || !r.ExpandFinished {
		t.Fatalf("finished expansion must stay put, got %s finished=%v", r.Status, r.ExpandFinished)
	}

	// A reclaimed request is claimable again.
	next, err := s.GetNextRepackRequestToExpand(ctx)
	if err != nil || next == nil || next.VID != "V001" {
		t.Fatalf("expected V001 claimable again, got %v, %v", next, err)
	}
}
