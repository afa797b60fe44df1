package role

import (
	"encoding/binary"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yusuferdemnacar/robust-file-transfer/codec"
	"github.com/yusuferdemnacar/robust-file-transfer/conn"
	"github.com/yusuferdemnacar/robust-file-transfer/connmgr"
	"github.com/yusuferdemnacar/robust-file-transfer/metrics"
	"github.com/yusuferdemnacar/robust-file-transfer/xfer"
)

// transferState tracks where a requested Read stands relative to the
// size-announcement/data/checksum exchange a server drives it through.
type transferState int

const (
	stateAwaitingSize transferState = iota
	stateReceivingData
	stateAwaitingChecksum
	stateDone
	stateFailed
)

type pendingTransfer struct {
	stream      *xfer.Stream
	localPath   string
	startOffset uint64
	targetBytes uint64
	received    uint64
	state       transferState
}

// Client drives Read/Checksum/List requests against a server and writes
// the results to the local filesystem. It implements both
// conn.FrameHandler (for the one Connection it owns once the handshake
// completes) and connmgr.EventHandler (to adopt its server-assigned id).
type Client struct {
	mgr  *connmgr.Manager
	conn *conn.Connection

	mu        sync.Mutex
	transfers map[uint16]*pendingTransfer
	pending   int

	nextStreamID uint32

	handshakeStart time.Time

	Done chan struct{}
	once sync.Once
}

// NewClient builds a Client bound to mgr. The connection itself is
// attached with Bind, which must run before the first RequestFile call.
func NewClient(mgr *connmgr.Manager) *Client {
	return &Client{
		mgr:       mgr,
		transfers: make(map[uint16]*pendingTransfer),
		Done:      make(chan struct{}),
	}
}

// SetManager attaches the Manager a Client sends through. Used when the
// Manager itself is constructed with this Client as its EventHandler,
// after NewClient(nil).
func (cl *Client) SetManager(mgr *connmgr.Manager) {
	cl.mgr = mgr
}

// Bind attaches the provisional connection a Client will send its first
// frame through. Called once, before the first RequestFile.
func (cl *Client) Bind(c *conn.Connection) {
	cl.conn = c
	cl.mgr.Add(c)
}

func (cl *Client) allocStreamID() uint16 {
	return uint16(atomic.AddUint32(&cl.nextStreamID, 1))
}

// RequestFile asks the server to stream remotePath, writing it to
// localPath. If localPath already has bytes on disk, it requests a
// resume from that offset with a CRC-32 of the existing prefix.
func (cl *Client) RequestFile(remotePath, localPath string) error {
	streamID := cl.allocStreamID()
	stream, err := xfer.Open(streamID, localPath, xfer.DirectionWrite)
	if err != nil {
		return err
	}

	cl.mu.Lock()
	if cl.conn.Provisional() && cl.handshakeStart.IsZero() {
		cl.handshakeStart = time.Now()
	}
	cl.mu.Unlock()

	var flags uint8
	var offset uint64
	if size, statErr := stream.Size(); statErr == nil && size > 0 {
		offset = uint64(size)
		flags = codec.ReadFlagResume
	}

	var checksum uint32
	if flags&codec.ReadFlagResume != 0 {
		checksum, err = stream.RangeCRC32(offset)
		if err != nil {
			stream.Close()
			return err
		}
	}

	cl.mu.Lock()
	cl.transfers[streamID] = &pendingTransfer{
		stream:      stream,
		localPath:   localPath,
		startOffset: offset,
		state:       stateAwaitingSize,
	}
	cl.pending++
	cl.mu.Unlock()

	cl.conn.QueueFrameTail(codec.ReadFrame{
		StreamID: streamID,
		Flags:    flags,
		Offset:   offset,
		Checksum: checksum,
		Path:     remotePath,
	})
	return nil
}

// RequestList asks the server to list a remote directory, logging the
// resulting table when it arrives.
func (cl *Client) RequestList(remotePath string) error {
	streamID := cl.allocStreamID()
	cl.conn.QueueFrameTail(codec.ListFrame{StreamID: streamID, Path: remotePath})
	return nil
}

// HandleFrame implements conn.FrameHandler.
func (cl *Client) HandleFrame(c *conn.Connection, f codec.Frame) {
	switch frame := f.(type) {
	case codec.DataFrame:
		cl.handleData(frame)
	case codec.AnswerFrame:
		cl.handleAnswer(frame)
	case codec.ErrorFrame:
		cl.handleError(frame)
	case codec.ConnIDChangeFrame:
		log.Printf("client: server reassigned connection id %d -> %d", frame.Old, frame.New)
	case codec.AckFrame, codec.ExitFrame, codec.FlowControlFrame, codec.ReadFrame, codec.WriteFrame, codec.StatFrame, codec.ChecksumFrame, codec.ListFrame:
		// Not expected inbound to a client.
	}
}

func (cl *Client) handleData(frame codec.DataFrame) {
	cl.mu.Lock()
	t, ok := cl.transfers[frame.StreamID]
	cl.mu.Unlock()
	if !ok {
		return
	}
	if err := t.stream.WriteAt(frame.Offset, frame.Payload); err != nil {
		log.Printf("client: write %s: %v", t.localPath, err)
		return
	}
	metrics.TransferBytesTotal.WithLabelValues("receive").Add(float64(len(frame.Payload)))

	cl.mu.Lock()
	t.received += uint64(len(frame.Payload))
	complete := t.state == stateReceivingData && t.received >= t.targetBytes
	if complete {
		t.state = stateAwaitingChecksum
	}
	cl.mu.Unlock()

	if complete {
		cl.conn.QueueFrameTail(codec.ChecksumFrame{StreamID: frame.StreamID, Path: t.localPath})
	}
}

func (cl *Client) handleAnswer(frame codec.AnswerFrame) {
	cl.mu.Lock()
	t, ok := cl.transfers[frame.StreamID]
	cl.mu.Unlock()
	if !ok {
		// Answer to a request with no stream state, e.g. a List reply.
		rows, err := unmarshalDirListing(frame.Payload)
		if err != nil {
			log.Printf("client: listing payload: %v", err)
			return
		}
		for _, row := range rows {
			log.Printf("  %-40s %10d %s", row.Name, row.Size, row.ModTime)
		}
		return
	}

	cl.mu.Lock()
	state := t.state
	cl.mu.Unlock()

	switch state {
	case stateAwaitingSize:
		if len(frame.Payload) != 8 {
			log.Printf("client: malformed size answer for stream %d", frame.StreamID)
			return
		}
		length := binary.LittleEndian.Uint64(frame.Payload)
		cl.mu.Lock()
		t.targetBytes = length
		if length == 0 {
			t.state = stateAwaitingChecksum
		} else {
			t.state = stateReceivingData
		}
		needChecksum := t.state == stateAwaitingChecksum
		cl.mu.Unlock()
		if needChecksum {
			cl.conn.QueueFrameTail(codec.ChecksumFrame{StreamID: frame.StreamID, Path: t.localPath})
		}
	case stateAwaitingChecksum:
		cl.finishTransfer(frame.StreamID, t, frame.Payload)
	default:
		log.Printf("client: unexpected answer for stream %d in state %d", frame.StreamID, state)
	}
}

func (cl *Client) finishTransfer(streamID uint16, t *pendingTransfer, digest []byte) {
	var want [32]byte
	copy(want[:], digest)
	got, err := t.stream.FileChecksum()
	ok := err == nil && got == want

	cl.mu.Lock()
	if ok {
		t.state = stateDone
	} else {
		t.state = stateFailed
	}
	cl.mu.Unlock()

	if closeErr := t.stream.Close(); closeErr != nil {
		log.Printf("client: close %s: %v", t.localPath, closeErr)
	}
	if !ok {
		log.Printf("client: checksum mismatch for %s, removing", t.localPath)
		if err := os.Remove(t.localPath); err != nil && !os.IsNotExist(err) {
			log.Printf("client: remove %s: %v", t.localPath, err)
		}
	}
	cl.transferFinished(streamID)
}

func (cl *Client) handleError(frame codec.ErrorFrame) {
	cl.mu.Lock()
	t, ok := cl.transfers[frame.StreamID]
	cl.mu.Unlock()
	log.Printf("client: server error on stream %d: %s", frame.StreamID, frame.Message)
	if !ok {
		return
	}
	if err := t.stream.Close(); err != nil {
		log.Printf("client: close %s: %v", t.localPath, err)
	}
	if frame.Message == ErrFileNotFound || frame.Message == ErrChecksumMismatch {
		if err := os.Remove(t.localPath); err != nil && !os.IsNotExist(err) {
			log.Printf("client: remove %s: %v", t.localPath, err)
		}
	}
	cl.transferFinished(frame.StreamID)
}

func (cl *Client) transferFinished(streamID uint16) {
	cl.mu.Lock()
	delete(cl.transfers, streamID)
	cl.pending--
	done := cl.pending == 0
	cl.mu.Unlock()
	if done {
		cl.once.Do(func() { close(cl.Done) })
	}
}

// ZeroConnectionID implements connmgr.EventHandler. A client should never
// receive a datagram addressed to id 0; it is the one that sends them.
func (cl *Client) ZeroConnectionID(pkt *codec.Packet, addr *net.UDPAddr) {
	log.Printf("client: unexpected zero-id datagram from %s", addr)
}

// UnknownConnectionID implements connmgr.EventHandler: this is how a
// client learns its server-assigned id, the first time the server
// replies to the provisional handshake.
func (cl *Client) UnknownConnectionID(pkt *codec.Packet, addr *net.UDPAddr) {
	cl.mgr.Rekey(0, pkt.Header.ConnectionID)

	cl.mu.Lock()
	start := cl.handshakeStart
	cl.handshakeStart = time.Time{}
	cl.mu.Unlock()
	if !start.IsZero() {
		metrics.HandshakeDurationHistogram.Observe(time.Since(start).Seconds())
	}

	cl.conn.Update(pkt, addr, time.Now())
}

// ConnectionTerminated implements connmgr.EventHandler.
func (cl *Client) ConnectionTerminated(ev conn.TerminatedEvent) {
	log.Printf("client: connection %d (%s) terminated", ev.ConnectionID, ev.FlowUUID)
}

// Exit queues a best-effort Exit frame on the client's connection.
func (cl *Client) Exit() {
	if cl.conn == nil {
		return
	}
	cl.conn.QueueFrameTail(codec.ExitFrame{})
}
