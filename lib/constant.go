package lib

import (
	"strings"

	"github.com/pkg/errors"
)

// Congestion control mode selects the loss-recovery behaviour of the
// send engine.
type CongestionMode int

const (
	Tahoe CongestionMode = iota
	Reno
)

func (m CongestionMode) String() string {
	if m == Reno {
		return "reno"
	}
	return "tahoe"
}

// ParseCongestionMode maps a configuration string onto a mode constant.
func ParseCongestionMode(s string) (CongestionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tahoe":
		return Tahoe, nil
	case "reno", "":
		return Reno, nil
	}
	return Reno, errors.Errorf("unknown congestion mode %q", s)
}

// Congestion control states of the send engine.
type CongestionState int

const (
	SlowStart CongestionState = iota
	CongestionAvoidance
	FastRecovery // Reno only
)

func (s CongestionState) String() string {
	switch s {
	case SlowStart:
		return "slow-start"
	case CongestionAvoidance:
		return "congestion-avoidance"
	case FastRecovery:
		return "fast-recovery"
	}
	return "unknown"
}

// Receive engine states.
const (
	AwaitingHandshake = iota
	Transferring
	Closed
)

// Flag constants. Rendered on the wire as a 4-character binary string,
// SYN in the high bit, so SYN|ACK marshals to "1100".
const (
	SYNFlag  uint8 = 1 << 3
	ACKFlag  uint8 = 1 << 2
	DATAFlag uint8 = 1 << 1
	FINFlag  uint8 = 1 << 0
)

const (
	// Handshake sequence numbers. The initiator starts its control
	// sequence space at 1000; the responder answers from 0. Data byte
	// offsets are 1-based and independent of these.
	initiatorISN = 1000
	responderISN = 0

	// Control sequence used for the pre-transfer request message.
	requestSeq = 2000

	// First byte offset of the data stream.
	dataStartSeq = 1
)

const (
	defaultMSS             = 1460
	defaultWindowSize      = 65536
	defaultInitialSsthresh = 65536
	maxPayloadBufferSize   = 65536
	defaultPoolCapacity    = 2048

	checksumSkew = 12345 // added to the integrity code by corruption injection
)
