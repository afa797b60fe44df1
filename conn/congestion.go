package conn

// congestionState implements a conventional slow-start/AIMD congestion
// window: slow start doubles the window on every accepted new packet,
// additive increase adds one MTU per accepted packet past the threshold,
// and a retransmit (loss signal) halves the window and forces additive
// mode. The exact constants are not wire-visible and are chosen
// conservatively here; tests can disable the whole mechanism.
type congestionState struct {
	enabled            bool
	slowStart          bool
	slowStartThreshold int
	mtu                int
}

func newCongestionState(mtu int, enabled bool) congestionState {
	return congestionState{
		enabled:            enabled,
		slowStart:          true,
		slowStartThreshold: mtu * 64,
		mtu:                mtu,
	}
}

// onPacketAccepted grows the window after a new (non-duplicate,
// in-order) packet is accepted on receive.
func (c *congestionState) onPacketAccepted(maxInflightBytes *int) {
	if !c.enabled {
		return
	}
	if c.slowStart {
		*maxInflightBytes *= 2
		if *maxInflightBytes >= c.slowStartThreshold {
			c.slowStart = false
		}
		return
	}
	*maxInflightBytes += c.mtu
}

// onLoss halves the window and switches to additive-increase mode, as
// triggered by a retransmit sweep.
func (c *congestionState) onLoss(maxInflightBytes *int) {
	if !c.enabled {
		return
	}
	c.slowStart = false
	*maxInflightBytes /= 2
	if *maxInflightBytes < c.mtu {
		*maxInflightBytes = c.mtu
	}
	c.slowStartThreshold = *maxInflightBytes
}
