package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockDryRunLeavesManifestAlone(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: x\n")

	res, err := Lock(path, true)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if res.Written {
		t.Fatal("Written = true in dry run")
	}
	if res.Hash == "" || res.Previous != "" || res.Changed() {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, ChecksumFileName)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
	if _, err := ReadManifest(dir); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("ReadManifest error = %v, want ErrNotLocked", err)
	}
}

func TestLockThenVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: x\n")

	if err := Verify(path); err != nil {
		t.Fatalf("unlocked config should verify: %v", err)
	}
	first, err := Lock(path, false)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !first.Written {
		t.Fatal("Written = false")
	}
	if err := Verify(path); err != nil {
		t.Fatalf("Verify after lock: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  name: y\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Verify(path); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Verify after edit = %v, want hash mismatch", err)
	}

	second, err := Lock(path, false)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if second.Previous != first.Hash || !second.Changed() {
		t.Fatalf("relock result %+v, want previous %s", second, first.Hash)
	}
	if err := Verify(path); err != nil {
		t.Fatalf("Verify after relock: %v", err)
	}
}

func TestLockKeepsOtherEntries(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "service:\n  name: x\n")
	other := filepath.Join(dir, "staging.yaml")
	if err := os.WriteFile(other, []byte("service:\n  name: staging\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Lock(other, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Lock(main, false); err != nil {
		t.Fatal(err)
	}
	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Hashes) != 2 {
		t.Fatalf("manifest has %d entries, want 2", len(m.Hashes))
	}
	if err := Verify(other); err != nil {
		t.Fatalf("Verify(other): %v", err)
	}
}

func TestVerifyUnlistedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: x\n")
	other := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(other, []byte("x: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Lock(path, false); err != nil {
		t.Fatal(err)
	}
	if err := Verify(other); err == nil || !strings.Contains(err.Error(), "not listed") {
		t.Fatalf("Verify(other) = %v, want not listed", err)
	}
}

func TestReadManifestRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ChecksumFileName), []byte("version: 9\nhashes: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadManifest(dir); err == nil {
		t.Fatal("expected version error")
	}
}
