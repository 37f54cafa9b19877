package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNetworkFilesystem is returned for database paths on a remote mount,
// where SQLite file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("database on network filesystem")

var errNoDetector = errors.New("no filesystem detection on this platform")

var remoteFilesystems = []string{"afpfs", "cifs", "fuse.sshfs", "nfs", "nfs4", "smb2", "smbfs", "webdav"}

type fsDetector func(dir string) (string, error)

// CheckFilesystem rejects database paths that resolve to a network mount.
// The file itself need not exist yet; its closest existing ancestor is inspected.
func CheckFilesystem(dbPath string) error {
	return checkFilesystem(dbPath, detectFilesystem)
}

func checkFilesystem(dbPath string, detect fsDetector) error {
	if dbPath == "" {
		return errors.New("database path is empty")
	}
	dir, err := existingAncestor(dbPath)
	if err != nil {
		return err
	}
	fsName, err := detect(dir)
	switch {
	case errors.Is(err, errNoDetector):
		return nil
	case err != nil:
		return fmt.Errorf("detect filesystem of %s: %w", dir, err)
	}
	if isRemote(fsName) {
		return fmt.Errorf("%w: %s is on %s, move it to local disk", ErrNetworkFilesystem, dbPath, fsName)
	}
	return nil
}

func existingAncestor(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}
		if filepath.Dir(dir) == dir {
			return "", fmt.Errorf("resolve %s: no existing ancestor", p)
		}
	}
}

func isRemote(fsName string) bool {
	return slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(fsName)))
}
