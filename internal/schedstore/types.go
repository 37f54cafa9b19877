package schedstore

import (
	"errors"
	"strings"
	"time"
)

// Category names a family of job queues by its table prefix.
type Category string

const (
	CategoryArchive        Category = "ARCHIVE_"
	CategoryRetrieve       Category = "RETRIEVE_"
	CategoryRepackArchive  Category = "REPACK_ARCHIVE_"
	CategoryRepackRetrieve Category = "REPACK_RETRIEVE_"
)

// Categories returns all job categories in a stable order.
func Categories() []Category {
	return []Category{CategoryArchive, CategoryRetrieve, CategoryRepackArchive, CategoryRepackRetrieve}
}

// Valid reports whether c is one of the four known prefixes.
func (c Category) Valid() bool {
	switch c {
	case CategoryArchive, CategoryRetrieve, CategoryRepackArchive, CategoryRepackRetrieve:
		return true
	}
	return false
}

// IsRepack reports whether jobs of c report back to a repack request.
func (c Category) IsRepack() bool {
	return c == CategoryRepackArchive || c == CategoryRepackRetrieve
}

// Table returns the SQL table holding c's jobs in queue q.
func (c Category) Table(q Queue) string {
	return strings.ToLower(string(c)) + string(q) + "_queue"
}

// ParseCategory accepts either the prefix ("REPACK_ARCHIVE_") or a short
// form ("repack-archive").
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if !strings.HasSuffix(norm, "_") {
		norm += "_"
	}
	c := Category(norm)
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// Queue is the lifecycle stage a job row lives in.
type Queue string

const (
	QueuePending Queue = "pending"
	QueueActive  Queue = "active"
	QueueFailed  Queue = "failed"
)

// JobStatus tracks a job within its queue.
type JobStatus string

const (
	JobPending         JobStatus = "PENDING"
	JobActive          JobStatus = "ACTIVE"
	JobToReportSuccess JobStatus = "TO_REPORT_FOR_SUCCESS"
	JobToReportFailure JobStatus = "TO_REPORT_FOR_FAILURE"
	JobFailed          JobStatus = "FAILED"
)

// RearchiveCopy is one tape copy a repack retrieve job must produce.
type RearchiveCopy struct {
	CopyNb   uint8  `json:"copy_nb"`
	TapePool string `json:"tape_pool"`
}

// Job is one row of a category queue table.
type Job struct {
	ID              string
	Category        Category
	Queue           Queue
	MountID         *uint64
	Status          JobStatus
	ArchiveFileID   uint64
	VID             string
	FSeq            uint64
	TapePool        string
	CopyNb          uint8
	RearchiveCopies []RearchiveCopy
	SizeInBytes     uint64
	RepackRequestID string
	BufferURL       string
	IsReporting     bool
	FailureLog      string
	CreationTime    time.Time
	LastUpdate      time.Time
}

// QueueJobRequest describes a new pending job.
type QueueJobRequest struct {
	ArchiveFileID   uint64
	VID             string
	FSeq            uint64
	TapePool        string
	CopyNb          uint8
	RearchiveCopies []RearchiveCopy
	SizeInBytes     uint64
	RepackRequestID string
	BufferURL       string
}

// QueueCount is the number of rows in one category queue.
type QueueCount struct {
	Category Category
	Queue    Queue
	Count    int
}

// RepackStatus is the lifecycle of a repack request.
type RepackStatus string

const (
	RepackPending   RepackStatus = "PENDING"
	RepackToExpand  RepackStatus = "TO_EXPAND"
	RepackStarting  RepackStatus = "STARTING"
	RepackExpanding RepackStatus = "EXPANDING"
	RepackFailed    RepackStatus = "FAILED"
	RepackDone      RepackStatus = "DONE"
)

// Terminal reports whether no further work will happen for the request.
func (s RepackStatus) Terminal() bool {
	return s == RepackFailed || s == RepackDone
}

// RepackType selects what an expansion produces.
type RepackType string

const (
	RepackMoveOnly         RepackType = "MOVE_ONLY"
	RepackAddCopiesOnly    RepackType = "ADD_COPIES_ONLY"
	RepackMoveAndAddCopies RepackType = "MOVE_AND_ADD_COPIES"
)

// Valid reports whether t is a known repack type.
func (t RepackType) Valid() bool {
	return t == RepackMoveOnly || t == RepackAddCopiesOnly || t == RepackMoveAndAddCopies
}

// Moves reports whether the copy on the repacked tape must be re-archived.
func (t RepackType) Moves() bool {
	return t == RepackMoveOnly || t == RepackMoveAndAddCopies
}

// AddsCopies reports whether missing storage class copies must be created.
func (t RepackType) AddsCopies() bool {
	return t == RepackAddCopiesOnly || t == RepackMoveAndAddCopies
}

// RepackStats are the counters a repack request accumulates.
type RepackStats struct {
	FilesToRetrieve       uint64
	BytesToRetrieve       uint64
	FilesToArchive        uint64
	BytesToArchive        uint64
	UserProvidedFiles     uint64
	UserProvidedBytes     uint64
	RetrievedFiles        uint64
	RetrievedBytes        uint64
	ArchivedFiles         uint64
	ArchivedBytes         uint64
	FailedToRetrieveFiles uint64
	FailedToRetrieveBytes uint64
	FailedToArchiveFiles  uint64
	FailedToArchiveBytes  uint64
}

// RepackRequest is an operator request to rewrite the contents of a tape.
type RepackRequest struct {
	ID               string
	VID              string
	Status           RepackStatus
	Type             RepackType
	BufferURL        string
	NoRecall         bool
	SubmittedBy      string
	LastExpandedFSeq uint64
	ExpandStarted    bool
	ExpandFinished   bool
	Stats            RepackStats
	FailureMessage   string
	CreationTime     time.Time
	LastUpdate       time.Time
}

// SubmitRepackRequest is the operator input for a new repack.
type SubmitRepackRequest struct {
	VID         string
	Type        RepackType
	BufferURL   string
	NoRecall    bool
	SubmittedBy string
}

// PromotionStats describes the request counts seen by a promotion pass.
type PromotionStats struct {
	Pending  int
	ToExpand int
	Starting int
	Promoted int
}

// RepackSubrequest is one file produced by expansion.
type RepackSubrequest struct {
	ArchiveFileID uint64
	FSeq          uint64
	SizeInBytes   uint64
	Copies        []RearchiveCopy
	// UserProvided files are already in the buffer and skip the retrieve step.
	UserProvided bool
	BufferURL    string
}

// ExpansionResult is everything one expansion pass writes back.
type ExpansionResult struct {
	Subrequests      []RepackSubrequest
	LastExpandedFSeq uint64
	Totals           RepackStats
}

// ReportKind selects one of the four repack report streams.
type ReportKind string

const (
	ReportRetrieveSuccess ReportKind = "retrieve_success"
	ReportArchiveSuccess  ReportKind = "archive_success"
	ReportRetrieveFailed  ReportKind = "retrieve_failed"
	ReportArchiveFailed   ReportKind = "archive_failed"
)

// ReportKinds returns the kinds in the order they are drained.
func ReportKinds() []ReportKind {
	return []ReportKind{ReportRetrieveSuccess, ReportArchiveSuccess, ReportRetrieveFailed, ReportArchiveFailed}
}

var (
	// ErrNoSuchObject means the addressed row was removed concurrently.
	ErrNoSuchObject    = errors.New("no such object")
	ErrJobNotFound     = errors.New("job not found")
	ErrRepackExists    = errors.New("repack request already exists for vid")
	ErrInvalidCategory = errors.New("invalid job category")
)
