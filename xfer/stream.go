// Package xfer manages per-file transfer state: an open file handle, an
// offset cursor, and the CRC-32/SHA-256 digests used for resume
// negotiation and post-transfer verification.
package xfer

import (
	"crypto/sha256"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Direction indicates which side of a stream the local endpoint plays.
type Direction byte

const (
	// DirectionRead means the local endpoint is sending bytes of the file.
	DirectionRead Direction = 'r'
	// DirectionWrite means the local endpoint is receiving bytes.
	DirectionWrite Direction = 'w'
)

// debugFrameHistoryLimit bounds the size of the diagnostic ring kept when
// RFT_DEBUG_FRAMES is set.
const debugFrameHistoryLimit = 32

// Stream is one file transfer within a connection: a stream id, a path, an
// open handle, a direction, a next_offset cursor and a closed flag.
type Stream struct {
	StreamID   uint16
	Path       string
	Direction  Direction
	NextOffset uint64
	closed     bool

	file *os.File

	debugFrames bool
	frameLog    []string
}

// Open opens path read-write, creating it if absent (permits reading
// existing content for checksum, writing new content at any offset for
// receive, or plain reading for send), and returns a Stream with
// NextOffset 0.
func Open(streamID uint16, path string, dir Direction) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("xfer: open %s: %w", path, err)
	}
	return &Stream{
		StreamID:    streamID,
		Path:        path,
		Direction:   dir,
		file:        f,
		debugFrames: os.Getenv("RFT_DEBUG_FRAMES") != "",
	}, nil
}

// Name returns the file's path as given to Open, for log correlation.
func (s *Stream) Name() string {
	return s.Path
}

// LogFrame records a one-line summary of a frame seen on this stream, kept
// only when RFT_DEBUG_FRAMES is set, and dumped by a connection on close.
func (s *Stream) LogFrame(summary string) {
	if !s.debugFrames {
		return
	}
	s.frameLog = append(s.frameLog, summary)
	if len(s.frameLog) > debugFrameHistoryLimit {
		s.frameLog = s.frameLog[len(s.frameLog)-debugFrameHistoryLimit:]
	}
}

// DebugHistory returns the recorded frame summaries, if any.
func (s *Stream) DebugHistory() []string {
	return s.frameLog
}

// WriteAt writes payload at offset and advances NextOffset to the end of
// the write when that end lies past it, whether or not the write leaves a
// gap before offset.
func (s *Stream) WriteAt(offset uint64, payload []byte) error {
	if _, err := s.file.WriteAt(payload, int64(offset)); err != nil {
		return fmt.Errorf("xfer: write %s at %d: %w", s.Path, offset, err)
	}
	if end := offset + uint64(len(payload)); end > s.NextOffset {
		s.NextOffset = end
	}
	return nil
}

// ReadAt reads up to len(buf) bytes at offset.
func (s *Stream) ReadAt(offset uint64, buf []byte) (int, error) {
	return s.file.ReadAt(buf, int64(offset))
}

// Size returns the on-disk size of the file.
func (s *Stream) Size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// FileChecksum returns the SHA-256 digest of the whole file, used by the
// receiver to validate after a Checksum frame round trip.
func (s *Stream) FileChecksum() ([32]byte, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, s.file); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// RangeCRC32 returns the CRC-32 (IEEE) of path[0:length], used only for
// resume negotiation in a Read frame.
func (s *Stream) RangeCRC32(length uint64) (uint32, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	h := crc32.NewIEEE()
	if _, err := io.CopyN(h, s.file, int64(length)); err != nil && err != io.EOF {
		return 0, err
	}
	return h.Sum32(), nil
}

// Close flushes and closes the file; if the on-disk size is zero, the file
// is deleted.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("xfer: flush %s: %w", s.Path, err)
	}
	size, statErr := s.Size()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("xfer: close %s: %w", s.Path, err)
	}
	if statErr == nil && size == 0 {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("xfer: remove empty %s: %w", s.Path, err)
		}
	}
	return nil
}

// Closed reports whether Close has already run.
func (s *Stream) Closed() bool { return s.closed }
