// Package role implements the client and server logic that sits on top
// of a raw Connection: interpreting inbound frames as file-transfer
// operations and driving outbound command/data frames.
package role

import (
	"encoding/binary"
	"log"
	"net"
	"os"
	"time"

	"github.com/yusuferdemnacar/robust-file-transfer/codec"
	"github.com/yusuferdemnacar/robust-file-transfer/conn"
	"github.com/yusuferdemnacar/robust-file-transfer/connmgr"
	"github.com/yusuferdemnacar/robust-file-transfer/metrics"
	"github.com/yusuferdemnacar/robust-file-transfer/xfer"
)

// dataChunkSize is the largest payload a single Data frame carries. It is
// well under any realistic max_packet_size so a read loop never produces
// an unsendable frame.
const dataChunkSize = 1024

// Server answers Read/Checksum/List requests against its working
// directory tree and replies "not implemented yet" to Write/Stat. It
// implements both conn.FrameHandler (once a connection exists) and
// connmgr.EventHandler (to allocate connections for new clients).
type Server struct {
	mgr *connmgr.Manager
}

// NewServer builds a Server. Call SetManager before the owning Manager's
// Loop starts running: the Manager and the Server each need a pointer to
// the other, so construction is necessarily two steps.
func NewServer(mgr *connmgr.Manager) *Server {
	return &Server{mgr: mgr}
}

// SetManager attaches the Manager a Server allocates new connections
// through. Used when the Manager itself is constructed with this Server
// as its EventHandler, after NewServer(nil).
func (s *Server) SetManager(mgr *connmgr.Manager) {
	s.mgr = mgr
}

// ZeroConnectionID implements connmgr.EventHandler: it is the server's
// first sight of a new client, and allocates a connection id for it.
func (s *Server) ZeroConnectionID(pkt *codec.Packet, addr *net.UDPAddr) {
	id := s.mgr.MaxConnectionID() + 1
	c := conn.New(conn.EstablishedIdentity(id), addr, s.mgr, s, NewFlowUUID())
	s.mgr.Add(c)
	log.Printf("server: new connection %d (%s) from %s", id, c.FlowUUID, addr)
	c.QueueFrameTail(codec.ConnIDChangeFrame{Old: 0, New: id})
	c.Update(pkt, addr, time.Now())
}

// UnknownConnectionID implements connmgr.EventHandler. A server should
// never see a nonzero id it does not recognize; the most likely cause is
// a stale or spoofed datagram, so it is dropped.
func (s *Server) UnknownConnectionID(pkt *codec.Packet, addr *net.UDPAddr) {
	log.Printf("server: dropping datagram for unknown connection %d from %s", pkt.Header.ConnectionID, addr)
}

// ConnectionTerminated implements connmgr.EventHandler.
func (s *Server) ConnectionTerminated(ev conn.TerminatedEvent) {
	log.Printf("server: connection %d (%s) terminated", ev.ConnectionID, ev.FlowUUID)
}

// sendError queues an ErrorFrame and records it against the error-count
// metric, keyed by the wire message.
func sendError(c *conn.Connection, streamID uint16, message string) {
	c.QueueFrameTail(codec.ErrorFrame{StreamID: streamID, Message: message})
	metrics.ErrorCount.WithLabelValues(message).Inc()
}

// HandleFrame implements conn.FrameHandler.
func (s *Server) HandleFrame(c *conn.Connection, f codec.Frame) {
	switch req := f.(type) {
	case codec.ReadFrame:
		s.handleRead(c, req)
	case codec.WriteFrame:
		sendError(c, req.StreamID, ErrNotImplemented)
	case codec.StatFrame:
		sendError(c, req.StreamID, ErrNotImplemented)
	case codec.ChecksumFrame:
		s.handleChecksum(c, req)
	case codec.ListFrame:
		s.handleList(c, req)
	case codec.ExitFrame:
		if err := c.Close(); err != nil {
			log.Printf("server: close on exit: %v", err)
		}
	case codec.ConnIDChangeFrame, codec.AckFrame, codec.FlowControlFrame, codec.AnswerFrame, codec.ErrorFrame, codec.DataFrame:
		// Not expected inbound to a server; nothing to do.
	}
}

func (s *Server) handleRead(c *conn.Connection, req codec.ReadFrame) {
	if _, exists := c.Streams[req.StreamID]; exists {
		sendError(c, req.StreamID, ErrStreamIDExists)
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		sendError(c, req.StreamID, ErrFileNotFound)
		return
	}
	size := uint64(info.Size())

	length := req.Length
	if length == 0 {
		length = size - req.Offset
	}
	if req.Offset > size || req.Offset+length > size {
		sendError(c, req.StreamID, ErrRangeTooLarge)
		return
	}

	stream, err := xfer.Open(req.StreamID, req.Path, xfer.DirectionRead)
	if err != nil {
		sendError(c, req.StreamID, ErrFileNotFound)
		return
	}

	if req.Resume() {
		crc, err := stream.RangeCRC32(req.Offset)
		if err != nil || crc != req.Checksum {
			sendError(c, req.StreamID, ErrChecksumMismatch)
			stream.Close()
			return
		}
	}

	c.Streams[req.StreamID] = stream

	var sizeAnswer [8]byte
	binary.LittleEndian.PutUint64(sizeAnswer[:], length)
	c.QueueFrameTail(codec.AnswerFrame{StreamID: req.StreamID, Payload: sizeAnswer[:]})

	s.streamOut(c, stream, req.Offset, length)
}

// streamOut queues one Data frame per chunk of the requested byte range.
// Pacing against the send window happens later, in Connection.Flush; this
// only decides how the bytes are carved into frames.
func (s *Server) streamOut(c *conn.Connection, stream *xfer.Stream, offset, length uint64) {
	remaining := length
	buf := make([]byte, dataChunkSize)
	for remaining > 0 {
		n := len(buf)
		if uint64(n) > remaining {
			n = int(remaining)
		}
		read, err := stream.ReadAt(offset, buf[:n])
		if read > 0 {
			payload := make([]byte, read)
			copy(payload, buf[:read])
			c.QueueFrameTail(codec.DataFrame{StreamID: stream.StreamID, Offset: offset, Payload: payload})
			metrics.TransferBytesTotal.WithLabelValues("send").Add(float64(read))
			offset += uint64(read)
			remaining -= uint64(read)
		}
		if err != nil {
			if err.Error() != "EOF" {
				log.Printf("server: read %s: %v", stream.Name(), err)
			}
			break
		}
	}
}

func (s *Server) handleChecksum(c *conn.Connection, req codec.ChecksumFrame) {
	stream, ok := c.Streams[req.StreamID]
	if !ok {
		sendError(c, req.StreamID, ErrStreamIDNotFound)
		return
	}
	sum, err := stream.FileChecksum()
	if err != nil {
		sendError(c, req.StreamID, ErrFileNotFound)
		return
	}
	c.QueueFrameTail(codec.AnswerFrame{StreamID: req.StreamID, Payload: sum[:]})
}

func (s *Server) handleList(c *conn.Connection, req codec.ListFrame) {
	csvBytes, err := marshalDirListing(req.Path)
	if err != nil {
		sendError(c, req.StreamID, ErrFileNotFound)
		return
	}
	c.QueueFrameTail(codec.AnswerFrame{StreamID: req.StreamID, Payload: csvBytes})
}
