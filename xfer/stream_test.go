package xfer_test

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/yusuferdemnacar/robust-file-transfer/xfer"
)

func TestWriteAtAdvancesNextOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	s, err := xfer.Open(1, path, xfer.DirectionWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.WriteAt(0, []byte("hello ")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := s.WriteAt(6, []byte("world")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if s.NextOffset != 11 {
		t.Errorf("NextOffset = %d, want 11", s.NextOffset)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("file contents = %q, want %q", got, "hello world")
	}
}

func TestCloseDeletesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")

	s, err := xfer.Open(1, path, xfer.DirectionWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed, stat err = %v", path, err)
	}
}

func TestRangeCRC32MatchesPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := xfer.Open(1, path, xfer.DirectionRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	full, err := s.RangeCRC32(10)
	if err != nil {
		t.Fatalf("RangeCRC32: %v", err)
	}
	prefix, err := s.RangeCRC32(5)
	if err != nil {
		t.Fatalf("RangeCRC32: %v", err)
	}
	if full == prefix {
		t.Errorf("expected different checksums for different-length prefixes")
	}
	if want := crc32.ChecksumIEEE([]byte("01234")); prefix != want {
		t.Errorf("RangeCRC32(5) = %08x, want %08x", prefix, want)
	}
}

func TestFileChecksumStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("stable contents"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := xfer.Open(1, path, xfer.DirectionRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	a, err := s.FileChecksum()
	if err != nil {
		t.Fatalf("FileChecksum: %v", err)
	}
	b, err := s.FileChecksum()
	if err != nil {
		t.Fatalf("FileChecksum: %v", err)
	}
	if a != b {
		t.Errorf("FileChecksum not stable across calls")
	}
}
