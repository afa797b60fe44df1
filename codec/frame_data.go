package codec

import "encoding/binary"

// AnswerFrame carries a raw byte response to a command frame, e.g. the CSV
// table produced for a List request.
type AnswerFrame struct {
	StreamID uint16
	Payload  []byte
}

func (f AnswerFrame) Type() FrameType { return FrameTypeAnswer }
func (f AnswerFrame) Len() int        { return 1 + 2 + 2 + len(f.Payload) }

func (f AnswerFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeAnswer))
	var tmp [4]byte
	binary.LittleEndian.PutUint16(tmp[0:2], f.StreamID)
	binary.LittleEndian.PutUint16(tmp[2:4], uint16(len(f.Payload)))
	b = append(b, tmp[:]...)
	return append(b, f.Payload...)
}

func parseAnswerFrame(data []byte) (Frame, int, error) {
	const headerLen = 1 + 2 + 2
	if len(data) < headerLen {
		return nil, 0, ErrTruncatedFrame
	}
	streamID := binary.LittleEndian.Uint16(data[1:3])
	payloadLen := int(binary.LittleEndian.Uint16(data[3:5]))
	total := headerLen + payloadLen
	if len(data) < total {
		return nil, 0, ErrBadPayloadLength
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[headerLen:total])
	return AnswerFrame{StreamID: streamID, Payload: payload}, total, nil
}

// ErrorFrame carries a human-readable error string describing why a
// command frame could not be satisfied.
type ErrorFrame struct {
	StreamID uint16
	Message  string
}

func (f ErrorFrame) Type() FrameType { return FrameTypeError }
func (f ErrorFrame) Len() int        { return 1 + 2 + 2 + len(f.Message) }

func (f ErrorFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeError))
	var tmp [4]byte
	binary.LittleEndian.PutUint16(tmp[0:2], f.StreamID)
	binary.LittleEndian.PutUint16(tmp[2:4], uint16(len(f.Message)))
	b = append(b, tmp[:]...)
	return append(b, f.Message...)
}

func parseErrorFrame(data []byte) (Frame, int, error) {
	const headerLen = 1 + 2 + 2
	if len(data) < headerLen {
		return nil, 0, ErrTruncatedFrame
	}
	streamID := binary.LittleEndian.Uint16(data[1:3])
	payloadLen := int(binary.LittleEndian.Uint16(data[3:5]))
	total := headerLen + payloadLen
	if len(data) < total {
		return nil, 0, ErrBadPayloadLength
	}
	return ErrorFrame{StreamID: streamID, Message: string(data[headerLen:total])}, total, nil
}

// DataFrame carries a chunk of file bytes at a given offset within a stream.
type DataFrame struct {
	StreamID uint16
	Offset   uint64 // 48-bit on the wire
	Payload  []byte
}

func (f DataFrame) Type() FrameType { return FrameTypeData }
func (f DataFrame) Len() int        { return 1 + 2 + 6 + 2 + len(f.Payload) }

func (f DataFrame) Marshal(buf []byte) []byte {
	b := append(buf, byte(FrameTypeData))
	var tmp [10]byte
	binary.LittleEndian.PutUint16(tmp[0:2], f.StreamID)
	putUint48LE(tmp[2:8], f.Offset)
	binary.LittleEndian.PutUint16(tmp[8:10], uint16(len(f.Payload)))
	b = append(b, tmp[:]...)
	return append(b, f.Payload...)
}

func parseDataFrame(data []byte) (Frame, int, error) {
	const headerLen = 1 + 2 + 6 + 2
	if len(data) < headerLen {
		return nil, 0, ErrTruncatedFrame
	}
	streamID := binary.LittleEndian.Uint16(data[1:3])
	offset := uint48LE(data[3:9])
	payloadLen := int(binary.LittleEndian.Uint16(data[9:11]))
	total := headerLen + payloadLen
	if len(data) < total {
		return nil, 0, ErrBadPayloadLength
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[headerLen:total])
	return DataFrame{StreamID: streamID, Offset: offset, Payload: payload}, total, nil
}
