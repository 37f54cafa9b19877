package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFileName is the manifest written by `config lock`, next to the
// config file it covers.
const ChecksumFileName = ".checksums"

const manifestVersion = 1

// ErrNotLocked means the config directory has no manifest.
var ErrNotLocked = errors.New("config directory is not locked")

// Manifest is the on-disk format of .checksums. One manifest may cover
// several config files in the same directory.
type Manifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockResult describes one `config lock` run.
type LockResult struct {
	File         string `json:"file"`
	Hash         string `json:"hash"`
	Previous     string `json:"previous,omitempty"`
	ManifestPath string `json:"manifest_path"`
	Written      bool   `json:"written"`
}

// Changed reports whether the file differs from the hash previously recorded.
func (r *LockResult) Changed() bool {
	return r.Previous != "" && r.Previous != r.Hash
}

// HashFile returns the hex BLAKE3-256 digest of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ReadManifest loads dir/.checksums. A missing manifest yields ErrNotLocked.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse checksums: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported checksums version %d", m.Version)
	}
	if m.Hashes == nil {
		m.Hashes = make(map[string]string)
	}
	return &m, nil
}

// Lock records the hash of configFile in its directory's manifest, keeping
// entries for other files. With dryRun the manifest is left untouched.
func Lock(configFile string, dryRun bool) (*LockResult, error) {
	dir, name := filepath.Split(configFile)
	dir = filepath.Clean(dir)

	hash, err := HashFile(configFile)
	if err != nil {
		return nil, err
	}
	res := &LockResult{File: name, Hash: hash, ManifestPath: filepath.Join(dir, ChecksumFileName)}

	m, err := ReadManifest(dir)
	switch {
	case errors.Is(err, ErrNotLocked):
		m = &Manifest{Version: manifestVersion, Hashes: make(map[string]string)}
	case err != nil:
		return nil, err
	}
	res.Previous = m.Hashes[name]
	if dryRun {
		return res, nil
	}

	m.Hashes[name] = hash
	m.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal checksums: %w", err)
	}
	if err := os.WriteFile(res.ManifestPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write checksums: %w", err)
	}
	res.Written = true
	return res, nil
}

// Verify checks configFile against its directory's manifest. An unlocked
// directory passes; a locked one must list the file with a matching hash.
func Verify(configFile string) error {
	dir, name := filepath.Split(configFile)
	m, err := ReadManifest(filepath.Clean(dir))
	if errors.Is(err, ErrNotLocked) {
		return nil
	}
	if err != nil {
		return err
	}
	want, ok := m.Hashes[name]
	if !ok {
		return fmt.Errorf("%s is not listed in %s", name, ChecksumFileName)
	}
	got, err := HashFile(configFile)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("hash mismatch for %s: locked %s, now %s", name, want, got)
	}
	return nil
}
