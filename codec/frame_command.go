package codec

import "encoding/binary"

// ReadFlagResume, set in ReadFrame.Flags bit 0, marks the request as a
// resume: the receiver must verify Checksum against its own CRC-32 of
// path[0:Offset] before streaming the rest of the file.
const ReadFlagResume uint8 = 1 << 0

// ReadFrame requests that the peer stream a file, optionally resuming
// from Offset after a CRC-32 verification of the already-received prefix.
type ReadFrame struct {
	StreamID uint16
	Flags    uint8
	Offset   uint64 // 48-bit
	Length   uint64 // 48-bit
	Checksum uint32
	Path     string
}

func (f ReadFrame) Type() FrameType { return FrameTypeRead }
func (f ReadFrame) Len() int        { return 1 + 2 + 1 + 6 + 6 + 4 + 2 + len(f.Path) }

func (f ReadFrame) Resume() bool { return f.Flags&ReadFlagResume != 0 }

func (f ReadFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeRead))
	var tmp [19]byte
	binary.LittleEndian.PutUint16(tmp[0:2], f.StreamID)
	tmp[2] = f.Flags
	putUint48LE(tmp[3:9], f.Offset)
	putUint48LE(tmp[9:15], f.Length)
	binary.LittleEndian.PutUint32(tmp[15:19], f.Checksum)
	b = append(b, tmp[:]...)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(f.Path)))
	b = append(b, lenBuf[:]...)
	return append(b, f.Path...)
}

func parseReadFrame(data []byte) (Frame, int, error) {
	const headerLen = 1 + 2 + 1 + 6 + 6 + 4 + 2
	if len(data) < headerLen {
		return nil, 0, ErrTruncatedFrame
	}
	streamID := binary.LittleEndian.Uint16(data[1:3])
	flags := data[3]
	offset := uint48LE(data[4:10])
	length := uint48LE(data[10:16])
	checksum := binary.LittleEndian.Uint32(data[16:20])
	payloadLen := int(binary.LittleEndian.Uint16(data[20:22]))
	total := headerLen + payloadLen
	if len(data) < total {
		return nil, 0, ErrBadPayloadLength
	}
	return ReadFrame{
		StreamID: streamID,
		Flags:    flags,
		Offset:   offset,
		Length:   length,
		Checksum: checksum,
		Path:     string(data[headerLen:total]),
	}, total, nil
}

// WriteFrame requests that the peer accept a file upload. The bundled
// roles reply "not implemented yet" for now; the wire format is final.
type WriteFrame struct {
	StreamID uint16
	Offset   uint64 // 48-bit
	Length   uint64 // 48-bit
	Path     string
}

func (f WriteFrame) Type() FrameType { return FrameTypeWrite }
func (f WriteFrame) Len() int        { return 1 + 2 + 6 + 6 + 2 + len(f.Path) }

func (f WriteFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeWrite))
	var tmp [14]byte
	binary.LittleEndian.PutUint16(tmp[0:2], f.StreamID)
	putUint48LE(tmp[2:8], f.Offset)
	putUint48LE(tmp[8:14], f.Length)
	b = append(b, tmp[:]...)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(f.Path)))
	b = append(b, lenBuf[:]...)
	return append(b, f.Path...)
}

func parseWriteFrame(data []byte) (Frame, int, error) {
	const headerLen = 1 + 2 + 6 + 6 + 2
	if len(data) < headerLen {
		return nil, 0, ErrTruncatedFrame
	}
	streamID := binary.LittleEndian.Uint16(data[1:3])
	offset := uint48LE(data[3:9])
	length := uint48LE(data[9:15])
	payloadLen := int(binary.LittleEndian.Uint16(data[15:17]))
	total := headerLen + payloadLen
	if len(data) < total {
		return nil, 0, ErrBadPayloadLength
	}
	return WriteFrame{StreamID: streamID, Offset: offset, Length: length, Path: string(data[headerLen:total])}, total, nil
}

// pathFrame factors the identical wire shape shared by Checksum, Stat and
// List: type, stream id, payload length, UTF-8 path.
type pathFrame struct {
	StreamID uint16
	Path     string
}

func (f pathFrame) len() int { return 1 + 2 + 2 + len(f.Path) }

func (f pathFrame) marshal(t FrameType, buf []byte) []byte {
	b := append(buf, byte(t))
	var tmp [4]byte
	binary.LittleEndian.PutUint16(tmp[0:2], f.StreamID)
	binary.LittleEndian.PutUint16(tmp[2:4], uint16(len(f.Path)))
	b = append(b, tmp[:]...)
	return append(b, f.Path...)
}

func parsePathFrame(data []byte) (pathFrame, int, error) {
	const headerLen = 1 + 2 + 2
	if len(data) < headerLen {
		return pathFrame{}, 0, ErrTruncatedFrame
	}
	streamID := binary.LittleEndian.Uint16(data[1:3])
	payloadLen := int(binary.LittleEndian.Uint16(data[3:5]))
	total := headerLen + payloadLen
	if len(data) < total {
		return pathFrame{}, 0, ErrBadPayloadLength
	}
	return pathFrame{StreamID: streamID, Path: string(data[headerLen:total])}, total, nil
}

// ChecksumFrame requests the SHA-256 digest of a file on the peer.
type ChecksumFrame struct {
	StreamID uint16
	Path     string
}

func (f ChecksumFrame) Type() FrameType { return FrameTypeChecksum }
func (f ChecksumFrame) Len() int        { return pathFrame(f).len() }
func (f ChecksumFrame) Marshal(buf []byte) []byte {
	return pathFrame(f).marshal(FrameTypeChecksum, buf)
}

func parseChecksumFrame(data []byte) (Frame, int, error) {
	pf, n, err := parsePathFrame(data)
	if err != nil {
		return nil, 0, err
	}
	return ChecksumFrame(pf), n, nil
}

// StatFrame requests metadata about a file on the peer. The wire format
// is final; the bundled roles do not yet implement a handler for it.
type StatFrame struct {
	StreamID uint16
	Path     string
}

func (f StatFrame) Type() FrameType { return FrameTypeStat }
func (f StatFrame) Len() int        { return pathFrame(f).len() }
func (f StatFrame) Marshal(buf []byte) []byte {
	return pathFrame(f).marshal(FrameTypeStat, buf)
}

func parseStatFrame(data []byte) (Frame, int, error) {
	pf, n, err := parsePathFrame(data)
	if err != nil {
		return nil, 0, err
	}
	return StatFrame(pf), n, nil
}

// ListFrame requests a directory listing from the peer. The bundled
// roles answer with a CSV-encoded table.
type ListFrame struct {
	StreamID uint16
	Path     string
}

func (f ListFrame) Type() FrameType { return FrameTypeList }
func (f ListFrame) Len() int        { return pathFrame(f).len() }
func (f ListFrame) Marshal(buf []byte) []byte {
	return pathFrame(f).marshal(FrameTypeList, buf)
}

func parseListFrame(data []byte) (Frame, int, error) {
	pf, n, err := parsePathFrame(data)
	if err != nil {
		return nil, 0, err
	}
	return ListFrame(pf), n, nil
}
