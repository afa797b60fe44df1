// Package conn implements a single RFT connection: the send window,
// retransmit queue, receive-side duplicate/reorder filtering, ack
// elicitation, frame scheduler, per-connection timers and the handshake
// id update.
package conn

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/yusuferdemnacar/robust-file-transfer/codec"
	"github.com/yusuferdemnacar/robust-file-transfer/metrics"
	"github.com/yusuferdemnacar/robust-file-transfer/xfer"
)

// frameStreamID extracts the stream id from frame variants that carry
// one, for routing a one-line summary to that stream's debug history.
func frameStreamID(f codec.Frame) (uint16, bool) {
	switch v := f.(type) {
	case codec.DataFrame:
		return v.StreamID, true
	case codec.AnswerFrame:
		return v.StreamID, true
	case codec.ErrorFrame:
		return v.StreamID, true
	case codec.ReadFrame:
		return v.StreamID, true
	case codec.WriteFrame:
		return v.StreamID, true
	case codec.ChecksumFrame:
		return v.StreamID, true
	case codec.StatFrame:
		return v.StreamID, true
	case codec.ListFrame:
		return v.StreamID, true
	default:
		return 0, false
	}
}

const (
	// DefaultMaxPacketSize is 1500 (typical Ethernet MTU) minus a 40-byte
	// IPv6 header and an 8-byte UDP header.
	DefaultMaxPacketSize = 1500 - 40 - 8

	// DefaultRetransmitTimeout and DefaultConnectionTimeout are the fixed
	// timer values for a connection with no peer-negotiated override.
	DefaultRetransmitTimeout = 5 * time.Second
	DefaultConnectionTimeout = 300 * time.Second
)

// Sender is the one-way dependency a Connection has on its owning
// ConnectionManager: hand a serialized datagram to the (possibly lossy)
// socket. Modeling it as an interface keeps Connection ignorant of the
// manager, the Markov loss model, and the socket itself.
type Sender interface {
	SendTo(data []byte, addr *net.UDPAddr) error
}

// FrameHandler is the role's hook into a Connection's receive path. A
// Connection knows nothing about client vs. server logic; it merely
// invokes HandleFrame for every frame in every accepted packet.
type FrameHandler interface {
	HandleFrame(c *Connection, f codec.Frame)
}

type inflightEntry struct {
	sentAt time.Time
	packet *codec.Packet
	raw    []byte
}

// TerminatedEvent is emitted by a ConnectionManager when a Connection
// closes, so Role code can react (e.g. clean up per-connection state).
type TerminatedEvent struct {
	ConnectionID uint32
	FlowUUID     string
}

// Connection is one logical RFT session.
type Connection struct {
	identity   Identity
	RemoteAddr *net.UDPAddr

	Streams map[uint16]*xfer.Stream

	queue    frameQueue
	inflight []inflightEntry

	inflightBytes    int
	maxPacketSize    int
	maxInflightBytes int

	lastSentPacketID         uint32
	nextExpectedRecvPacketID uint32

	lastActivityTime time.Time

	retransmitTimeout        time.Duration
	connectionTimeout        time.Duration
	retransmitTimeoutTrigger bool

	closed bool

	sender  Sender
	handler FrameHandler

	congestion congestionState

	// FlowUUID correlates log lines and metrics with one connection's
	// lifetime; it has no wire effect.
	FlowUUID string

	stats Stats
}

// Stats are per-connection counters, returned by Connection.Stats. They
// are kept separately from the Prometheus metrics, which conn and connmgr
// update directly.
type Stats struct {
	PacketsSent         uint64
	PacketsRetransmitted uint64
	PacketsAccepted     uint64
	PacketsDropped      uint64
	BytesSent           uint64
}

// New creates a Connection. id may be conn.ProvisionalIdentity() for a
// client that has not yet completed its handshake.
func New(id Identity, remoteAddr *net.UDPAddr, sender Sender, handler FrameHandler, flowUUID string) *Connection {
	c := &Connection{
		identity:                 id,
		RemoteAddr:               remoteAddr,
		Streams:                  make(map[uint16]*xfer.Stream),
		maxPacketSize:            DefaultMaxPacketSize,
		maxInflightBytes:         DefaultMaxPacketSize,
		nextExpectedRecvPacketID: 1,
		lastActivityTime:         time.Now(),
		retransmitTimeout:        DefaultRetransmitTimeout,
		connectionTimeout:        DefaultConnectionTimeout,
		sender:                   sender,
		handler:                  handler,
		congestion:               newCongestionState(DefaultMaxPacketSize, true),
		FlowUUID:                 flowUUID,
	}
	return c
}

// ID returns the connection id, or 0 if still provisional.
func (c *Connection) ID() uint32 { return c.identity.Value() }

// Provisional reports whether the handshake has not yet assigned an id.
func (c *Connection) Provisional() bool { return !c.identity.Assigned() }

// AssignID transitions a provisional connection to an established one.
// The caller (a ConnectionManager) is responsible for re-keying its own
// connections map; Connection only tracks its own id.
func (c *Connection) AssignID(id uint32) {
	c.identity.Assign(id)
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool { return c.closed }

// Stats returns a snapshot of this connection's counters.
func (c *Connection) Stats() Stats { return c.stats }

// SetRetransmitTriggered is called by a ConnectionManager when this
// connection's retransmit deadline fires.
func (c *Connection) SetRetransmitTriggered() {
	c.retransmitTimeoutTrigger = true
}

// DisableCongestionControl turns off the slow-start/AIMD window growth,
// for tests that want a fixed window.
func (c *Connection) DisableCongestionControl() {
	c.congestion.enabled = false
}

// QueueFrame enqueues f for transmission on a future Flush. transmitFirst,
// when non-nil, overrides the type-based scheduling heuristic.
func (c *Connection) QueueFrame(f codec.Frame, transmitFirst *bool) {
	head := headsForTransmitFirst(f)
	if transmitFirst != nil {
		head = *transmitFirst
	}
	if head {
		c.queue.PushHead(f)
	} else {
		c.queue.PushTail(f)
	}
}

var headTrue = true
var tailFalse = false

// QueueFrameHead is sugar for QueueFrame(f, transmit_first=true).
func (c *Connection) QueueFrameHead(f codec.Frame) { c.QueueFrame(f, &headTrue) }

// QueueFrameTail is sugar for QueueFrame(f, transmit_first=false).
func (c *Connection) QueueFrameTail(f codec.Frame) { c.QueueFrame(f, &tailFalse) }

// Flush packages queued frames into packets within the current send
// window and hands them to the Sender. now is threaded through
// explicitly so tests can drive time deterministically.
func (c *Connection) Flush(now time.Time) error {
	if c.closed {
		return nil
	}
	c.retransmitSweep(now)

	budget := c.maxInflightBytes - c.inflightBytes
	if c.Provisional() && len(c.inflight) == 1 {
		budget = 0
	}
	if budget <= 0 {
		return nil
	}

	for {
		f, ok := c.queue.PeekHead()
		if !ok {
			return nil
		}
		if codec.HeaderSize+f.Len() > c.maxPacketSize {
			// A single frame can never fit in one packet: this is a fatal
			// condition for whatever stream produced it. Drop it so the
			// queue does not wedge forever.
			c.queue.PopHead()
			log.Printf("conn %d: frame %v (%d bytes) exceeds max packet size %d, dropping",
				c.identity.Value(), f.Type(), f.Len(), c.maxPacketSize)
			continue
		}

		frames := c.packOnePacket(budget)
		if len(frames) == 0 {
			return nil
		}
		c.logFramesToStreams(frames, "send")

		packetID := c.lastSentPacketID + 1
		pkt := codec.NewPacket(c.identity.Value(), packetID, frames)
		raw := pkt.Marshal()
		c.lastSentPacketID = packetID

		if err := c.sender.SendTo(raw, c.RemoteAddr); err != nil {
			return err
		}
		c.inflight = append(c.inflight, inflightEntry{sentAt: now, packet: pkt, raw: raw})
		c.inflightBytes += len(raw)
		c.reportInflightBytes()
		c.stats.PacketsSent++
		c.stats.BytesSent += uint64(len(raw))

		budget -= len(raw)
		if budget <= 0 {
			return nil
		}
	}
}

// packOnePacket pops frames from the head of the queue into a single
// packet, respecting maxPacketSize and the remaining per-flush budget.
func (c *Connection) packOnePacket(budget int) []codec.Frame {
	var frames []codec.Frame
	size := codec.HeaderSize
	for {
		f, ok := c.queue.PeekHead()
		if !ok {
			break
		}
		fl := f.Len()
		if size+fl > c.maxPacketSize {
			break
		}
		if size+fl > budget {
			break
		}
		c.queue.PopHead()
		frames = append(frames, f)
		size += fl
	}
	return frames
}

// retransmitSweep resends every ack-eliciting packet that has been
// inflight longer than the retransmit timeout, dropping the inflight
// record of anything non-ack-eliciting that aged out instead. It only
// runs when the manager has signaled a retransmit timer fire.
func (c *Connection) retransmitSweep(now time.Time) {
	if !c.retransmitTimeoutTrigger {
		return
	}
	c.retransmitTimeoutTrigger = false
	if len(c.inflight) == 0 {
		return
	}
	if now.Sub(c.inflight[0].sentAt) < c.retransmitTimeout {
		return
	}

	var resent, kept []inflightEntry
	lost := false
	for _, e := range c.inflight {
		if now.Sub(e.sentAt) >= c.retransmitTimeout {
			if e.packet.ContainsAckEliciting() {
				if err := c.sender.SendTo(e.raw, c.RemoteAddr); err != nil {
					log.Printf("conn %d: retransmit failed: %v", c.identity.Value(), err)
				}
				e.sentAt = now
				resent = append(resent, e)
				c.stats.PacketsRetransmitted++
				metrics.RetransmitsTotal.Inc()
			} else {
				c.inflightBytes -= len(e.raw)
			}
			lost = true
		} else {
			kept = append(kept, e)
		}
	}
	c.inflight = append(resent, kept...)
	c.reportInflightBytes()
	if lost {
		c.congestion.onLoss(&c.maxInflightBytes)
	}
}

// reportInflightBytes publishes the current outstanding-bytes count to the
// per-connection gauge.
func (c *Connection) reportInflightBytes() {
	metrics.InflightBytes.WithLabelValues(strconv.Itoa(int(c.identity.Value()))).Set(float64(c.inflightBytes))
}

// Update processes one accepted-by-the-manager inbound packet.
func (c *Connection) Update(pkt *codec.Packet, addr *net.UDPAddr, now time.Time) {
	if c.closed {
		return
	}
	c.lastActivityTime = now
	if !sameUDPAddr(c.RemoteAddr, addr) {
		c.RemoteAddr = addr
	}

	if pkt.Header.PacketID != c.nextExpectedRecvPacketID {
		// Reorder policy: drop strictly out-of-order packets, no
		// buffering, no duplicate-ack stimulation.
		c.stats.PacketsDropped++
		return
	}
	c.nextExpectedRecvPacketID++
	c.stats.PacketsAccepted++
	c.congestion.onPacketAccepted(&c.maxInflightBytes)

	if pkt.ContainsAckEliciting() {
		c.QueueFrameHead(codec.AckFrame{PacketID: pkt.Header.PacketID + 1})
	}

	for _, f := range pkt.Frames {
		if ack, ok := f.(codec.AckFrame); ok {
			c.applyAck(ack.PacketID)
		}
	}

	c.logFramesToStreams(pkt.Frames, "recv")

	for _, f := range pkt.Frames {
		c.handler.HandleFrame(c, f)
	}
}

// logFramesToStreams appends a one-line summary of each frame to the
// debug history of the stream it names, if that stream exists and has
// RFT_DEBUG_FRAMES history enabled. direction is "send" or "recv".
func (c *Connection) logFramesToStreams(frames []codec.Frame, direction string) {
	for _, f := range frames {
		id, ok := frameStreamID(f)
		if !ok {
			continue
		}
		if s, exists := c.Streams[id]; exists {
			s.LogFrame(fmt.Sprintf("%s %v", direction, f.Type()))
		}
	}
}

// applyAck removes every inflight entry whose packet id is strictly less
// than acked.
func (c *Connection) applyAck(acked uint32) {
	var kept []inflightEntry
	for _, e := range c.inflight {
		if e.packet.Header.PacketID < acked {
			c.inflightBytes -= len(e.raw)
			continue
		}
		kept = append(kept, e)
	}
	c.inflight = kept
	c.reportInflightBytes()
}

// CurrentTimeout returns how long the ConnectionManager should wait
// before this connection next needs attention.
func (c *Connection) CurrentTimeout(now time.Time) time.Duration {
	connDeadline := c.lastActivityTime.Add(c.connectionTimeout)
	deadline := connDeadline
	if len(c.inflight) > 0 {
		retransmitDeadline := c.inflight[0].sentAt.Add(c.retransmitTimeout)
		if retransmitDeadline.Before(deadline) {
			deadline = retransmitDeadline
		}
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TimedOut is called by the ConnectionManager when this connection's
// deadline fires.
func (c *Connection) TimedOut(now time.Time) {
	connDeadline := c.lastActivityTime.Add(c.connectionTimeout)
	if !connDeadline.After(now) {
		c.Close()
		return
	}
	if len(c.inflight) > 0 {
		retransmitDeadline := c.inflight[0].sentAt.Add(c.retransmitTimeout)
		if !retransmitDeadline.After(now) {
			c.retransmitTimeoutTrigger = true
		}
	}
}

// Close performs a final flush, marks the connection closed, and closes
// every stream still open.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	if err := c.Flush(time.Now()); err != nil {
		log.Printf("conn %d: final flush error: %v", c.identity.Value(), err)
	}
	for id, s := range c.Streams {
		if hist := s.DebugHistory(); len(hist) > 0 {
			log.Printf("conn %d: stream %d frame history: %v", c.identity.Value(), id, hist)
		}
		if !s.Closed() {
			if err := s.Close(); err != nil {
				log.Printf("conn %d: stream %d close error: %v", c.identity.Value(), id, err)
			}
		}
	}
	c.closed = true
	return nil
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
