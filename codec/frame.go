package codec

// FrameType is the one-byte tag that begins every frame.
type FrameType uint8

// The twelve frame variants, each tagged by a leading type byte on the wire.
const (
	FrameTypeAck           FrameType = 0
	FrameTypeExit          FrameType = 1
	FrameTypeConnIDChange  FrameType = 2
	FrameTypeFlowControl   FrameType = 3
	FrameTypeAnswer        FrameType = 4
	FrameTypeError         FrameType = 5
	FrameTypeData          FrameType = 6
	FrameTypeRead          FrameType = 7
	FrameTypeWrite         FrameType = 8
	FrameTypeChecksum      FrameType = 9
	FrameTypeStat          FrameType = 10
	FrameTypeList          FrameType = 11
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeAck:
		return "Ack"
	case FrameTypeExit:
		return "Exit"
	case FrameTypeConnIDChange:
		return "ConnIdChange"
	case FrameTypeFlowControl:
		return "FlowControl"
	case FrameTypeAnswer:
		return "Answer"
	case FrameTypeError:
		return "Error"
	case FrameTypeData:
		return "Data"
	case FrameTypeRead:
		return "Read"
	case FrameTypeWrite:
		return "Write"
	case FrameTypeChecksum:
		return "Checksum"
	case FrameTypeStat:
		return "Stat"
	case FrameTypeList:
		return "List"
	default:
		return "Unknown"
	}
}

// Frame is a tagged-union wire frame. Concrete types are the twelve
// variants below; parsing dispatches on the leading type byte instead of
// walking an inheritance hierarchy.
type Frame interface {
	Type() FrameType
	// Len returns the exact number of bytes Marshal will produce.
	Len() int
	// Marshal appends the serialized frame to buf and returns the result.
	Marshal(buf []byte) []byte
}

// AckEliciting reports whether receiving f should cause the receiver to
// schedule an Ack. Every frame except Ack and Exit is ack-eliciting.
func AckEliciting(f Frame) bool {
	switch f.Type() {
	case FrameTypeAck, FrameTypeExit:
		return false
	default:
		return true
	}
}

// ParseFrame parses exactly one frame from the front of data, returning the
// frame and the number of bytes it consumed. It never reads past a frame's
// own boundary; the caller loops until data is exhausted.
func ParseFrame(data []byte) (Frame, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncatedFrame
	}
	switch FrameType(data[0]) {
	case FrameTypeAck:
		return parseAckFrame(data)
	case FrameTypeExit:
		return parseExitFrame(data)
	case FrameTypeConnIDChange:
		return parseConnIDChangeFrame(data)
	case FrameTypeFlowControl:
		return parseFlowControlFrame(data)
	case FrameTypeAnswer:
		return parseAnswerFrame(data)
	case FrameTypeError:
		return parseErrorFrame(data)
	case FrameTypeData:
		return parseDataFrame(data)
	case FrameTypeRead:
		return parseReadFrame(data)
	case FrameTypeWrite:
		return parseWriteFrame(data)
	case FrameTypeChecksum:
		return parseChecksumFrame(data)
	case FrameTypeStat:
		return parseStatFrame(data)
	case FrameTypeList:
		return parseListFrame(data)
	default:
		return nil, 0, ErrUnknownFrameType
	}
}

// ParseFrames repeatedly parses frames until data is fully consumed.
// Any parse error aborts the whole packet: a datagram with a malformed
// frame is dropped in its entirety rather than partially applied.
func ParseFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		f, n, err := ParseFrame(data)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		data = data[n:]
	}
	return frames, nil
}
