package repack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/mattjoyce/tapemaint/internal/catalogue"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

// Catalogue is the subset of the catalogue an expansion reads.
type Catalogue interface {
	GetArchiveFilesForRepack(ctx context.Context, vid string, afterFSeq uint64) ([]catalogue.ArchiveFile, error)
	GetStorageClasses(ctx context.Context) ([]catalogue.StorageClass, error)
	GetArchiveRoutes(ctx context.Context) ([]catalogue.ArchiveRoute, error)
}

// Store is the subset of the scheduler store an expansion writes.
type Store interface {
	SetRepackExpanding(ctx context.Context, id string) error
	AddSubrequestsAndUpdateStats(ctx context.Context, id string, result schedstore.ExpansionResult) (int, error)
}

// ExpandError is a failure confined to one repack request.
type ExpandError struct {
	VID    string
	Reason string
}

func (e *ExpandError) Error() string {
	return fmt.Sprintf("expand repack %s: %s", e.VID, e.Reason)
}

func expandErrorf(vid, format string, args ...any) *ExpandError {
	return &ExpandError{VID: vid, Reason: fmt.Sprintf(format, args...)}
}

// Outcome summarises one expansion.
type Outcome struct {
	Queued           int
	Files            int
	LastExpandedFSeq uint64
	Totals           schedstore.RepackStats
	BufferDir        string
}

const metadataKey = "metadata"

type metadata struct {
	nbCopies map[string]uint8
	routes   map[string]map[uint8]string
}

// Expander turns repack requests into retrieve and archive sub-jobs.
type Expander struct {
	cat   Catalogue
	store Store
	cache *ttlcache.Cache[string, metadata]
}

// NewExpander builds an expander. Storage classes and archive routes are
// cached for cacheTTL; a non-positive TTL reads them on every expansion.
func NewExpander(cat Catalogue, store Store, cacheTTL time.Duration) *Expander {
	e := &Expander{cat: cat, store: store}
	if cacheTTL > 0 {
		e.cache = ttlcache.New(ttlcache.WithTTL[string, metadata](cacheTTL))
	}
	return e
}

// BufferFileName is the name a file takes in the repack buffer.
func BufferFileName(fseq uint64) string {
	return fmt.Sprintf("%09d", fseq)
}

// BufferDir returns the local directory holding the buffer for vid.
func BufferDir(bufferURL, vid string) string {
	return schedstore.RepackBufferDir(bufferURL, vid)
}

// Expand moves req to Expanding, computes its sub-jobs and writes them with
// the updated totals in one store transaction.
func (e *Expander) Expand(ctx context.Context, req *schedstore.RepackRequest) (Outcome, error) {
	out := Outcome{BufferDir: BufferDir(req.BufferURL, req.VID)}
	if !req.Type.Valid() {
		return out, expandErrorf(req.VID, "unknown repack type %q", req.Type)
	}

	if err := e.store.SetRepackExpanding(ctx, req.ID); err != nil {
		return out, err
	}

	files, err := e.cat.GetArchiveFilesForRepack(ctx, req.VID, req.LastExpandedFSeq)
	if err != nil {
		return out, fmt.Errorf("list files on %s: %w", req.VID, err)
	}
	out.Files = len(files)

	md, err := e.metadata(ctx)
	if err != nil {
		return out, err
	}

	buffered, exists, err := readBuffer(out.BufferDir)
	if err != nil {
		return out, err
	}
	createdDir := false
	if !exists {
		if req.NoRecall {
			return out, expandErrorf(req.VID, "repack buffer %s does not exist and recall is disabled", out.BufferDir)
		}
		if len(files) > 0 {
			if err := os.MkdirAll(out.BufferDir, 0o755); err != nil {
				return out, fmt.Errorf("create repack buffer %s: %w", out.BufferDir, err)
			}
			createdDir = true
		}
	}

	result := schedstore.ExpansionResult{LastExpandedFSeq: req.LastExpandedFSeq}
	for _, f := range files {
		tf, ok := f.CopyOn(req.VID)
		if !ok {
			continue
		}
		result.LastExpandedFSeq = max(result.LastExpandedFSeq, tf.FSeq)

		name := BufferFileName(tf.FSeq)
		size, inBuffer := buffered[name]
		userProvided := inBuffer && uint64(size) == f.SizeInBytes
		if req.NoRecall && !userProvided {
			continue
		}

		copies, err := copiesFor(req, f, tf, md)
		if err != nil {
			return out, err
		}
		if len(copies) == 0 {
			continue
		}

		sub := schedstore.RepackSubrequest{
			ArchiveFileID: f.ID,
			FSeq:          tf.FSeq,
			SizeInBytes:   f.SizeInBytes,
			Copies:        copies,
			UserProvided:  userProvided,
			BufferURL:     filepath.Join(out.BufferDir, name),
		}
		result.Subrequests = append(result.Subrequests, sub)

		n := uint64(len(copies))
		result.Totals.FilesToArchive += n
		result.Totals.BytesToArchive += n * f.SizeInBytes
		if userProvided {
			result.Totals.UserProvidedFiles++
			result.Totals.UserProvidedBytes += f.SizeInBytes
		} else {
			result.Totals.FilesToRetrieve++
			result.Totals.BytesToRetrieve += f.SizeInBytes
		}
	}

	queued, err := e.store.AddSubrequestsAndUpdateStats(ctx, req.ID, result)
	if err != nil {
		return out, err
	}
	out.Queued = queued
	out.LastExpandedFSeq = result.LastExpandedFSeq
	out.Totals = result.Totals

	if queued == 0 && createdDir {
		_ = os.Remove(out.BufferDir)
	}
	return out, nil
}

func copiesFor(req *schedstore.RepackRequest, f catalogue.ArchiveFile, tf catalogue.TapeFile, md metadata) ([]schedstore.RearchiveCopy, error) {
	nbCopies, ok := md.nbCopies[f.StorageClass]
	if !ok {
		return nil, expandErrorf(req.VID, "archive file %d has unknown storage class %q", f.ID, f.StorageClass)
	}
	routes := md.routes[f.StorageClass]

	var copies []schedstore.RearchiveCopy
	if req.Type.Moves() {
		pool, ok := routes[tf.CopyNb]
		if !ok {
			return nil, expandErrorf(req.VID, "no archive route for storage class %s copy %d", f.StorageClass, tf.CopyNb)
		}
		copies = append(copies, schedstore.RearchiveCopy{CopyNb: tf.CopyNb, TapePool: pool})
	}

	if req.Type.AddsCopies() {
		have := make(map[uint8]bool, len(f.TapeFiles))
		for _, t := range f.TapeFiles {
			have[t.CopyNb] = true
		}
		missing := int(nbCopies) - len(have)
		if missing > 0 {
			copyNbs := make([]uint8, 0, len(routes))
			for nb := range routes {
				copyNbs = append(copyNbs, nb)
			}
			slices.Sort(copyNbs)
			for _, nb := range copyNbs {
				if missing == 0 {
					break
				}
				if have[nb] {
					continue
				}
				copies = append(copies, schedstore.RearchiveCopy{CopyNb: nb, TapePool: routes[nb]})
				missing--
			}
			if missing > 0 {
				return nil, expandErrorf(req.VID, "storage class %s needs %d more archive routes to add copies of file %d", f.StorageClass, missing, f.ID)
			}
		}
	}
	return copies, nil
}

func (e *Expander) metadata(ctx context.Context) (metadata, error) {
	if e.cache != nil {
		if item := e.cache.Get(metadataKey); item != nil {
			return item.Value(), nil
		}
	}

	classes, err := e.cat.GetStorageClasses(ctx)
	if err != nil {
		return metadata{}, fmt.Errorf("load storage classes: %w", err)
	}
	routes, err := e.cat.GetArchiveRoutes(ctx)
	if err != nil {
		return metadata{}, fmt.Errorf("load archive routes: %w", err)
	}

	md := metadata{
		nbCopies: make(map[string]uint8, len(classes)),
		routes:   make(map[string]map[uint8]string),
	}
	for _, sc := range classes {
		md.nbCopies[sc.Name] = sc.NbCopies
	}
	for _, r := range routes {
		if md.routes[r.StorageClass] == nil {
			md.routes[r.StorageClass] = make(map[uint8]string)
		}
		md.routes[r.StorageClass][r.CopyNb] = r.TapePool
	}

	if e.cache != nil {
		e.cache.Set(metadataKey, md, ttlcache.DefaultTTL)
	}
	return md, nil
}

// InvalidateCache drops cached storage classes and routes.
func (e *Expander) InvalidateCache() {
	if e.cache != nil {
		e.cache.DeleteAll()
	}
}

// readBuffer lists regular files in dir with their sizes. A missing
// directory is not an error.
func readBuffer(dir string) (map[string]int64, bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read repack buffer %s: %w", dir, err)
	}
	out := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, true, fmt.Errorf("stat %s: %w", filepath.Join(dir, entry.Name()), err)
		}
		out[entry.Name()] = info.Size()
	}
	return out, true, nil
}
