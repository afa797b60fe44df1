package role

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yusuferdemnacar/robust-file-transfer/codec"
	"github.com/yusuferdemnacar/robust-file-transfer/conn"
)

type recordingSender struct {
	sent [][]byte
}

func (s *recordingSender) SendTo(data []byte, addr *net.UDPAddr) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.sent = append(s.sent, cp)
	return nil
}

func testAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
}

func newServerConnection(s *Server) (*conn.Connection, *recordingSender) {
	sender := &recordingSender{}
	c := conn.New(conn.EstablishedIdentity(7), testAddr(), sender, s, NewFlowUUID())
	c.DisableCongestionControl()
	return c, sender
}

func drainFrames(t *testing.T, sender *recordingSender) []codec.Frame {
	t.Helper()
	var out []codec.Frame
	for _, raw := range sender.sent {
		pkt, err := codec.ParsePacket(raw)
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		out = append(out, pkt.Frames...)
	}
	return out
}

func TestServerHandleReadMissingFile(t *testing.T) {
	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.ReadFrame{StreamID: 1, Path: filepath.Join(t.TempDir(), "nope.txt")})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	errFrame, ok := frames[0].(codec.ErrorFrame)
	if !ok {
		t.Fatalf("frame is %T, want ErrorFrame", frames[0])
	}
	if errFrame.Message != ErrFileNotFound {
		t.Errorf("Message = %q, want %q", errFrame.Message, ErrFileNotFound)
	}
}

func TestServerHandleReadStreamsWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.ReadFrame{StreamID: 3, Path: path})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) < 2 {
		t.Fatalf("got %d frames, want at least a size Answer and one Data frame", len(frames))
	}
	ans, ok := frames[0].(codec.AnswerFrame)
	if !ok {
		t.Fatalf("first frame is %T, want AnswerFrame", frames[0])
	}
	if len(ans.Payload) != 8 {
		t.Fatalf("size answer payload length = %d, want 8", len(ans.Payload))
	}

	var gathered []byte
	for _, f := range frames[1:] {
		d, ok := f.(codec.DataFrame)
		if !ok {
			t.Fatalf("frame is %T, want DataFrame", f)
		}
		gathered = append(gathered, d.Payload...)
	}
	if string(gathered) != string(content) {
		t.Errorf("streamed bytes = %q, want %q", gathered, content)
	}
}

func TestServerHandleReadRejectsDuplicateStreamID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.ReadFrame{StreamID: 9, Path: path})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sender.sent = nil
	s.HandleFrame(c, codec.ReadFrame{StreamID: 9, Path: path})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	errFrame, ok := frames[0].(codec.ErrorFrame)
	if !ok {
		t.Fatalf("frame is %T, want ErrorFrame", frames[0])
	}
	if errFrame.Message != ErrStreamIDExists {
		t.Errorf("Message = %q, want %q", errFrame.Message, ErrStreamIDExists)
	}
}

func TestServerHandleReadRangeTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.ReadFrame{StreamID: 1, Offset: 0, Length: 100, Path: path})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	errFrame, ok := frames[0].(codec.ErrorFrame)
	if !ok {
		t.Fatalf("frame is %T, want ErrorFrame", frames[0])
	}
	if errFrame.Message != ErrRangeTooLarge {
		t.Errorf("Message = %q, want %q", errFrame.Message, ErrRangeTooLarge)
	}
}

func TestServerHandleChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("checksum me")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewServer(nil)
	c, sender := newServerConnection(s)

	// A Checksum frame only answers for a stream id already opened by a
	// prior Read; it does not open the path itself.
	s.HandleFrame(c, codec.ReadFrame{StreamID: 4, Path: path})
	sender.sent = nil
	s.HandleFrame(c, codec.ChecksumFrame{StreamID: 4, Path: path})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	var ans codec.AnswerFrame
	found := false
	for _, f := range frames {
		if a, ok := f.(codec.AnswerFrame); ok && len(a.Payload) == 32 {
			ans = a
			found = true
		}
	}
	if !found {
		t.Fatalf("no 32-byte checksum AnswerFrame among %v", frames)
	}
	if len(ans.Payload) != 32 {
		t.Errorf("checksum payload length = %d, want 32", len(ans.Payload))
	}
}

func TestServerHandleChecksumUnknownStreamID(t *testing.T) {
	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.ChecksumFrame{StreamID: 99, Path: "irrelevant"})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	errFrame, ok := frames[0].(codec.ErrorFrame)
	if !ok {
		t.Fatalf("frame is %T, want ErrorFrame", frames[0])
	}
	if errFrame.Message != ErrStreamIDNotFound {
		t.Errorf("Message = %q, want %q", errFrame.Message, ErrStreamIDNotFound)
	}
}

func TestServerHandleListUnknownDir(t *testing.T) {
	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.ListFrame{StreamID: 2, Path: filepath.Join(t.TempDir(), "missing")})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if _, ok := frames[0].(codec.ErrorFrame); !ok {
		t.Fatalf("frame is %T, want ErrorFrame", frames[0])
	}
}

func TestServerHandleWriteNotImplemented(t *testing.T) {
	s := NewServer(nil)
	c, sender := newServerConnection(s)

	s.HandleFrame(c, codec.WriteFrame{StreamID: 1, Path: "anything"})
	if err := c.Flush(time.Now()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	frames := drainFrames(t, sender)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	errFrame, ok := frames[0].(codec.ErrorFrame)
	if !ok {
		t.Fatalf("frame is %T, want ErrorFrame", frames[0])
	}
	if errFrame.Message != ErrNotImplemented {
		t.Errorf("Message = %q, want %q", errFrame.Message, ErrNotImplemented)
	}
}

func TestServerHandleExitClosesConnection(t *testing.T) {
	s := NewServer(nil)
	c, _ := newServerConnection(s)

	s.HandleFrame(c, codec.ExitFrame{})
	if !c.Closed() {
		t.Errorf("expected connection to be closed after Exit")
	}
}
