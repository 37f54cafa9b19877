package catalogue

import (
	"errors"
	"time"
)

// DriveStatus is the session state a tape drive reports.
type DriveStatus string

const (
	DriveUp             DriveStatus = "UP"
	DriveDown           DriveStatus = "DOWN"
	DriveMounting       DriveStatus = "MOUNTING"
	DriveTransferring   DriveStatus = "TRANSFERRING"
	DriveUnloading      DriveStatus = "UNLOADING"
	DriveUnmounting     DriveStatus = "UNMOUNTING"
	DriveDrainingToDisk DriveStatus = "DRAINING_TO_DISK"
	DriveCleaningUp     DriveStatus = "CLEANING_UP"
)

// HasMount reports whether a drive in this state holds a live mount.
func (s DriveStatus) HasMount() bool {
	switch s {
	case DriveMounting, DriveTransferring, DriveUnloading, DriveUnmounting, DriveDrainingToDisk, DriveCleaningUp:
		return true
	}
	return false
}

// Valid reports whether s is a known drive status.
func (s DriveStatus) Valid() bool {
	return s == DriveUp || s == DriveDown || s.HasMount()
}

// Drive is one row of the tape_drive table.
type Drive struct {
	Name           string
	LogicalLibrary string
	Status         DriveStatus
	MountType      string
	SessionID      *uint64
	VID            string
	LastUpdate     time.Time
}

// StorageClass declares how many tape copies a file must have.
type StorageClass struct {
	Name     string
	NbCopies uint8
}

// ArchiveRoute maps a storage class copy number to a tape pool.
type ArchiveRoute struct {
	StorageClass string
	CopyNb       uint8
	TapePool     string
}

// TapeFile is one copy of an archive file on a tape.
type TapeFile struct {
	VID     string
	FSeq    uint64
	CopyNb  uint8
	BlockID uint64
}

// ArchiveFile is a catalogued file and all of its tape copies.
type ArchiveFile struct {
	ID           uint64
	DiskInstance string
	DiskFileID   string
	SizeInBytes  uint64
	StorageClass string
	Checksum     string
	TapeFiles    []TapeFile
	CreationTime time.Time
}

// CopyOn returns the copy of f stored on vid, if any.
func (f ArchiveFile) CopyOn(vid string) (TapeFile, bool) {
	for _, tf := range f.TapeFiles {
		if tf.VID == vid {
			return tf, true
		}
	}
	return TapeFile{}, false
}

var (
	ErrDriveNotFound        = errors.New("drive not found")
	ErrStorageClassNotFound = errors.New("storage class not found")
)
