// Package connmgr implements the single shared UDP socket that every
// Connection sends through and receives from: datagram dispatch by
// connection id, the per-connection timer loop, and the two-state Markov
// loss model used to fault-inject drops on the send path.
package connmgr

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yusuferdemnacar/robust-file-transfer/codec"
	"github.com/yusuferdemnacar/robust-file-transfer/conn"
	"github.com/yusuferdemnacar/robust-file-transfer/metrics"
)

// pollInterval bounds how long a single ReadFromUDP call may block, so the
// loop notices context cancellation even while no connection has a near
// deadline.
const pollInterval = time.Second

// EventHandler is the Role's hook into connection-manager-level events
// that have no owning Connection yet: a datagram addressed to connection
// id 0 (client handshake, or a server's first sight of a client), a
// datagram addressed to an id the manager does not recognize (client
// adopting its server-assigned id), and a connection's closure.
type EventHandler interface {
	ZeroConnectionID(pkt *codec.Packet, addr *net.UDPAddr)
	UnknownConnectionID(pkt *codec.Packet, addr *net.UDPAddr)
	ConnectionTerminated(ev conn.TerminatedEvent)
}

// Manager owns the one UDP socket a role uses, dispatches inbound
// datagrams to the owning Connection, drives every Connection's flush and
// timeout, and fault-injects loss on the send path.
type Manager struct {
	sock        *net.UDPConn
	connections map[uint32]*conn.Connection
	loss        *lossChannel
	handler     EventHandler
	roleLabel   string
}

// Listen opens the one UDP socket a Manager uses. When ipv6 is true it
// binds udp6 and clears IPV6_V6ONLY so IPv4-mapped peers can reach it on
// the same socket.
func Listen(laddr string, ipv6 bool) (*net.UDPConn, error) {
	network := "udp4"
	if ipv6 {
		network = "udp6"
	}
	addr, err := net.ResolveUDPAddr(network, laddr)
	if err != nil {
		return nil, err
	}
	sock, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	if ipv6 {
		if err := clearV6Only(sock); err != nil {
			sock.Close()
			return nil, err
		}
	}
	return sock, nil
}

func clearV6Only(sock *net.UDPConn) error {
	sc, err := sock.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}); err != nil {
		return err
	}
	return sockErr
}

// NewManager builds a Manager around an already-bound socket. p and q
// parameterize the Markov loss model on the send path; seed makes it
// reproducible. roleLabel ("client" or "server") is attached to the
// active-connections metric.
func NewManager(sock *net.UDPConn, p, q float64, seed int64, handler EventHandler, roleLabel string) *Manager {
	return &Manager{
		sock:        sock,
		connections: make(map[uint32]*conn.Connection),
		loss:        newLossChannel(p, q, seed),
		handler:     handler,
		roleLabel:   roleLabel,
	}
}

// Add registers a connection with the manager, keyed by its current id
// (0 for a client still mid-handshake).
func (m *Manager) Add(c *conn.Connection) {
	m.connections[c.ID()] = c
	metrics.ActiveConnections.WithLabelValues(m.roleLabel).Set(float64(len(m.connections)))
}

// MaxConnectionID returns the largest connection id currently registered,
// or 0 if the manager holds none. A server uses this to allocate the next
// id during the handshake.
func (m *Manager) MaxConnectionID() uint32 {
	var max uint32
	for id := range m.connections {
		if id > max {
			max = id
		}
	}
	return max
}

// Rekey moves a connection from its provisional key (0) to its
// server-assigned id, the Go equivalent of the handshake's map re-keying
// step.
func (m *Manager) Rekey(oldID, newID uint32) {
	c, ok := m.connections[oldID]
	if !ok {
		return
	}
	delete(m.connections, oldID)
	c.AssignID(newID)
	m.connections[newID] = c
}

// SendTo implements conn.Sender: it is the only place a datagram actually
// reaches the wire, so it is where the Markov loss model is applied.
func (m *Manager) SendTo(data []byte, addr *net.UDPAddr) error {
	if !m.loss.Admit() {
		metrics.PacketsSentTotal.WithLabelValues("dropped").Inc()
		return nil
	}
	_, err := m.sock.WriteToUDP(data, addr)
	if err != nil {
		metrics.PacketsSentTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.PacketsSentTotal.WithLabelValues("delivered").Inc()
	return nil
}

// Loop runs the manager's single-threaded cooperative event loop until ctx
// is done or the socket returns a non-timeout error.
func (m *Manager) Loop(ctx context.Context) error {
	buf := make([]byte, 65536)
	for ctx.Err() == nil {
		m.flushAndReap()

		deadline, timedOut := m.nextDeadline(time.Now())
		if err := m.sock.SetReadDeadline(deadline); err != nil {
			return err
		}

		n, addr, err := m.sock.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				if timedOut != nil {
					timedOut.TimedOut(time.Now())
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		m.handleDatagram(buf[:n], addr)
	}
	return nil
}

func (m *Manager) flushAndReap() {
	for id, c := range m.connections {
		if c.Closed() {
			delete(m.connections, id)
			metrics.ActiveConnections.WithLabelValues(m.roleLabel).Set(float64(len(m.connections)))
			m.handler.ConnectionTerminated(conn.TerminatedEvent{ConnectionID: id, FlowUUID: c.FlowUUID})
			continue
		}
		if err := c.Flush(time.Now()); err != nil {
			log.Printf("connmgr: flush conn %d: %v", id, err)
		}
	}
}

// nextDeadline returns the earliest time the loop must wake up even with
// nothing readable, and the connection (if any) whose deadline that is, so
// Loop can call TimedOut on exactly that connection on a read timeout. It
// never returns a deadline further than pollInterval out, so context
// cancellation is noticed promptly even when every connection is quiet.
func (m *Manager) nextDeadline(now time.Time) (time.Time, *conn.Connection) {
	deadline := now.Add(pollInterval)
	var owner *conn.Connection
	for _, c := range m.connections {
		d := now.Add(c.CurrentTimeout(now))
		if d.Before(deadline) {
			deadline = d
			owner = c
		}
	}
	return deadline, owner
}

func (m *Manager) handleDatagram(data []byte, addr *net.UDPAddr) {
	pkt, err := codec.ParsePacket(data)
	if err != nil {
		metrics.PacketsReceivedTotal.WithLabelValues("parse_error").Inc()
		return
	}
	if pkt.Header.ConnectionID == 0 {
		metrics.PacketsReceivedTotal.WithLabelValues("zero_id").Inc()
		m.handler.ZeroConnectionID(pkt, addr)
		return
	}
	c, ok := m.connections[pkt.Header.ConnectionID]
	if !ok {
		metrics.PacketsReceivedTotal.WithLabelValues("unknown_id").Inc()
		m.handler.UnknownConnectionID(pkt, addr)
		return
	}
	metrics.PacketsReceivedTotal.WithLabelValues("accepted").Inc()
	c.Update(pkt, addr, time.Now())
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
