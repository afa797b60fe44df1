package codec

import "encoding/binary"

// AckFrame cumulatively acknowledges every packet with id strictly less
// than PacketID.
type AckFrame struct {
	PacketID uint32
}

func (f AckFrame) Type() FrameType { return FrameTypeAck }
func (f AckFrame) Len() int        { return 1 + 4 }

func (f AckFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeAck))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], f.PacketID)
	return append(b, tmp[:]...)
}

func parseAckFrame(data []byte) (Frame, int, error) {
	const n = 1 + 4
	if len(data) < n {
		return nil, 0, ErrTruncatedFrame
	}
	return AckFrame{PacketID: binary.LittleEndian.Uint32(data[1:5])}, n, nil
}

// ExitFrame signals that the sender is tearing down the connection. It is
// ack-elicitation-exempt and is never itself retransmitted.
type ExitFrame struct{}

func (f ExitFrame) Type() FrameType { return FrameTypeExit }
func (f ExitFrame) Len() int        { return 1 }

func (f ExitFrame) Marshal(buf []byte) []byte {
	return append(buf, byte(FrameTypeExit))
}

func parseExitFrame(data []byte) (Frame, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncatedFrame
	}
	return ExitFrame{}, 1, nil
}

// ConnIDChangeFrame notifies a peer that its connection id has been
// reassigned, used during the server-side handshake.
type ConnIDChangeFrame struct {
	Old uint32
	New uint32
}

func (f ConnIDChangeFrame) Type() FrameType { return FrameTypeConnIDChange }
func (f ConnIDChangeFrame) Len() int        { return 1 + 4 + 4 }

func (f ConnIDChangeFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeConnIDChange))
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], f.Old)
	binary.LittleEndian.PutUint32(tmp[4:8], f.New)
	return append(b, tmp[:]...)
}

func parseConnIDChangeFrame(data []byte) (Frame, int, error) {
	const n = 1 + 4 + 4
	if len(data) < n {
		return nil, 0, ErrTruncatedFrame
	}
	return ConnIDChangeFrame{
		Old: binary.LittleEndian.Uint32(data[1:5]),
		New: binary.LittleEndian.Uint32(data[5:9]),
	}, n, nil
}

// FlowControlFrame advertises a new receive window. The wire format is
// final; no bundled role currently drives flow control off of it.
type FlowControlFrame struct {
	Window uint32
}

func (f FlowControlFrame) Type() FrameType { return FrameTypeFlowControl }
func (f FlowControlFrame) Len() int        { return 1 + 4 }

func (f FlowControlFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeFlowControl))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], f.Window)
	return append(b, tmp[:]...)
}

func parseFlowControlFrame(data []byte) (Frame, int, error) {
	const n = 1 + 4
	if len(data) < n {
		return nil, 0, ErrTruncatedFrame
	}
	return FlowControlFrame{Window: binary.LittleEndian.Uint32(data[1:5])}, n, nil
}
