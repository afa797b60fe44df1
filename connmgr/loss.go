package connmgr

import "math/rand"

// lossChannel is the two-state Markov channel that fault-injects drops on
// the send path. State begins in "success". p is the success-to-failure
// transition probability, q is failure-to-success. p == q == 0 yields a
// lossless channel.
type lossChannel struct {
	p, q    float64
	success bool
	rng     *rand.Rand
}

func newLossChannel(p, q float64, seed int64) *lossChannel {
	return &lossChannel{p: p, q: q, success: true, rng: rand.New(rand.NewSource(seed))}
}

// Admit reports whether a datagram should actually be transmitted, and
// advances the Markov state accordingly.
func (l *lossChannel) Admit() bool {
	r := l.rng.Float64()
	if l.success {
		if r < l.p {
			l.success = false
			return false
		}
		return true
	}
	if r < l.q {
		l.success = true
		return true
	}
	return false
}
