package lib

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Sentinel errors of the transfer engine.
var (
	ErrChannelClosed      = errors.New("channel closed")
	ErrRetryExhausted     = errors.New("segment retry limit exceeded, transfer stalled")
	ErrHandshakeFailed    = errors.New("handshake failed")
	ErrIncompleteTransfer = errors.New("transfer incomplete")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrListenerClosed     = errors.New("listener closed")
)

// WireDecodeError reports a message that could not be parsed as a packet.
// The engine skips such messages; decoding never aborts a transfer.
type WireDecodeError struct {
	Reason string
	Line   string
}

func (e *WireDecodeError) Error() string {
	line := e.Line
	if len(line) > 64 {
		line = line[:64] + "..."
	}
	return fmt.Sprintf("wire decode error: %s in %q", e.Reason, line)
}

func newDecodeError(line []byte, format string, args ...interface{}) error {
	return &WireDecodeError{Reason: fmt.Sprintf(format, args...), Line: string(line)}
}

// IntegrityError reports a packet whose integrity code does not match the
// recomputed value. The receiver discards the packet but still emits a
// duplicate acknowledgement for its last good position.
type IntegrityError struct {
	SeqNum   int
	Expected uint32
	Got      uint32
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for seq=%d: expected %d, got %d", e.SeqNum, e.Expected, e.Got)
}

type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string {
	return e.msg
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return false
}

// isTimeout reports whether err marks a bounded-wait read that expired.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampDuration(d, low, high time.Duration) time.Duration {
	if d < low {
		return low
	}
	if d > high {
		return high
	}
	return d
}
