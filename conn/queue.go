package conn

import "github.com/yusuferdemnacar/robust-file-transfer/codec"

// frameQueue is a double-ended frame queue: insertion at either end, and
// pop from the head (the end packaging drains). Queue depth in practice
// is bounded by the send window, so a plain slice deque is preferred
// here over container/list.
type frameQueue struct {
	items []codec.Frame
}

// PushHead places f where it will be packaged next.
func (q *frameQueue) PushHead(f codec.Frame) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = f
}

// PushTail places f at the back, FIFO with other tail-inserted frames.
func (q *frameQueue) PushTail(f codec.Frame) {
	q.items = append(q.items, f)
}

// PeekHead returns the next frame to be packaged without removing it.
func (q *frameQueue) PeekHead() (codec.Frame, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// PopHead removes and returns the next frame to be packaged.
func (q *frameQueue) PopHead() (codec.Frame, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

// Len reports how many frames are queued.
func (q *frameQueue) Len() int { return len(q.items) }

// headsForTransmitFirst maps a frame type to the default scheduling end:
// true means head (urgent/bulk-producing), false means tail. Data and Read
// frames go to the head so large transfers drain in order; everything
// else, including Ack, piggybacks on whatever is already scheduled.
func headsForTransmitFirst(f codec.Frame) bool {
	switch f.Type() {
	case codec.FrameTypeData, codec.FrameTypeRead:
		return true
	default:
		return false
	}
}
