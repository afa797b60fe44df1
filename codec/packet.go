package codec

// Packet is a datagram-bounded unit: a 12-byte header followed by one or
// more frames.
type Packet struct {
	Header Header
	Frames []Frame
}

// NewPacket builds a packet and computes its checksum. connectionID is 0
// only during the transient client-handshake window.
func NewPacket(connectionID, packetID uint32, frames []Frame) *Packet {
	p := &Packet{
		Header: Header{
			Version:      ProtocolVersion,
			ConnectionID: connectionID,
			PacketID:     packetID,
		},
		Frames: frames,
	}
	p.Header.Checksum = p.computeChecksum()
	return p
}

// Len returns the exact serialized length of the packet.
func (p *Packet) Len() int {
	n := HeaderSize
	for _, f := range p.Frames {
		n += f.Len()
	}
	return n
}

// Marshal serializes the packet, header first, in declaration order.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, 0, p.Len())
	buf = buf[:HeaderSize]
	p.Header.marshalInto(buf)
	for _, f := range p.Frames {
		buf = f.Marshal(buf)
	}
	return buf
}

// computeChecksum returns the CRC-32 (IEEE, truncated to 24 bits) of the
// packet's serialized form with the checksum field zeroed.
func (p *Packet) computeChecksum() uint32 {
	saved := p.Header.Checksum
	p.Header.Checksum = 0
	data := p.Marshal()
	p.Header.Checksum = saved
	return checksum24(data)
}

// ContainsAckEliciting reports whether any frame in the packet elicits an
// Ack.
func (p *Packet) ContainsAckEliciting() bool {
	for _, f := range p.Frames {
		if AckEliciting(f) {
			return true
		}
	}
	return false
}

// ParsePacket parses and validates a received datagram: version, header
// shape, per-frame boundaries and the checksum must all agree, or the
// datagram is rejected wholesale.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortBuffer
	}
	hdr := unmarshalHeader(data[:HeaderSize])
	if hdr.Version != ProtocolVersion {
		return nil, ErrUnsupportedVersion
	}

	verify := make([]byte, len(data))
	copy(verify, data)
	verify[9], verify[10], verify[11] = 0, 0, 0
	if checksum24(verify) != hdr.Checksum {
		return nil, ErrChecksumMismatch
	}

	frames, err := ParseFrames(data[HeaderSize:])
	if err != nil {
		return nil, err
	}
	return &Packet{Header: hdr, Frames: frames}, nil
}
