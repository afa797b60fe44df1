package role

import (
	"fmt"
	"sync/atomic"

	"github.com/m-lab/uuid"
)

var cookieCounter uint64

// NewFlowUUID mints a process-unique identifier for a new connection. TCP
// sockets carry a kernel SO_COOKIE that uuid.FromCookie turns into a
// stable fingerprint; a UDP connection has no such cookie, so this uses a
// monotonic counter in its place. The result has no wire effect — it only
// correlates log lines and metrics with one connection's lifetime.
func NewFlowUUID() string {
	cookie := atomic.AddUint64(&cookieCounter, 1)
	id, err := uuid.FromCookie(cookie)
	if err != nil {
		return fmt.Sprintf("flow-%d", cookie)
	}
	return id
}
