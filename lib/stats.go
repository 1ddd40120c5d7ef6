package lib

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/atomic"
)

// TransferStats aggregates one connection's transfer counters. All
// fields are atomic so the demo programs can snapshot them while the
// worker is still moving data.
type TransferStats struct {
	BytesSent        atomic.Int64
	BytesDelivered   atomic.Int64
	SegmentsSent     atomic.Int64
	SegmentsReceived atomic.Int64
	AcksSent         atomic.Int64
	AcksReceived     atomic.Int64
	DupAcksSent      atomic.Int64
	DupAcksReceived  atomic.Int64
	Retransmissions  atomic.Int64
	FastRetransmits  atomic.Int64
	Timeouts         atomic.Int64
	SackRemovals     atomic.Int64
	DropsInjected    atomic.Int64
	CorruptsInjected atomic.Int64
	DecodeErrors     atomic.Int64
	IntegrityErrors  atomic.Int64
	OutOfOrder       atomic.Int64
	BufferDrops      atomic.Int64

	startTime atomic.Time
	endTime   atomic.Time
}

func newTransferStats() *TransferStats {
	return &TransferStats{}
}

func (s *TransferStats) MarkStart() {
	s.startTime.Store(time.Now())
}

func (s *TransferStats) MarkEnd() {
	s.endTime.Store(time.Now())
}

// Elapsed is the transfer duration so far, or the final duration once
// MarkEnd ran.
func (s *TransferStats) Elapsed() time.Duration {
	start := s.startTime.Load()
	if start.IsZero() {
		return 0
	}
	end := s.endTime.Load()
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(start)
}

// StatsSnapshot is a plain copy of the counters at one moment.
type StatsSnapshot struct {
	BytesSent        int64
	BytesDelivered   int64
	SegmentsSent     int64
	SegmentsReceived int64
	AcksSent         int64
	AcksReceived     int64
	DupAcksSent      int64
	DupAcksReceived  int64
	Retransmissions  int64
	FastRetransmits  int64
	Timeouts         int64
	SackRemovals     int64
	DropsInjected    int64
	CorruptsInjected int64
	DecodeErrors     int64
	IntegrityErrors  int64
	OutOfOrder       int64
	BufferDrops      int64
	Elapsed          time.Duration
}

func (s *TransferStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesSent:        s.BytesSent.Load(),
		BytesDelivered:   s.BytesDelivered.Load(),
		SegmentsSent:     s.SegmentsSent.Load(),
		SegmentsReceived: s.SegmentsReceived.Load(),
		AcksSent:         s.AcksSent.Load(),
		AcksReceived:     s.AcksReceived.Load(),
		DupAcksSent:      s.DupAcksSent.Load(),
		DupAcksReceived:  s.DupAcksReceived.Load(),
		Retransmissions:  s.Retransmissions.Load(),
		FastRetransmits:  s.FastRetransmits.Load(),
		Timeouts:         s.Timeouts.Load(),
		SackRemovals:     s.SackRemovals.Load(),
		DropsInjected:    s.DropsInjected.Load(),
		CorruptsInjected: s.CorruptsInjected.Load(),
		DecodeErrors:     s.DecodeErrors.Load(),
		IntegrityErrors:  s.IntegrityErrors.Load(),
		OutOfOrder:       s.OutOfOrder.Load(),
		BufferDrops:      s.BufferDrops.Load(),
		Elapsed:          s.Elapsed(),
	}
}

// Throughput in kilobytes per second over the elapsed time, based on
// delivered bytes for a receiver and sent bytes for a sender.
func (ss StatsSnapshot) Throughput() float64 {
	secs := ss.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	bytes := ss.BytesDelivered
	if bytes == 0 {
		bytes = ss.BytesSent
	}
	return float64(bytes) / 1024 / secs
}

// Report writes the human-readable summary the demo programs print
// after a transfer.
func (ss StatsSnapshot) Report(w io.Writer) error {
	_, err := fmt.Fprintf(w, `=== Transfer Statistics ===
Bytes sent:            %d
Bytes delivered:       %d
Segments sent:         %d
Segments received:     %d
Acks sent/received:    %d/%d
Dup acks sent/recv:    %d/%d
Retransmissions:       %d
Fast retransmits:      %d
Timeouts:              %d
SACK removals:         %d
Injected drops:        %d
Injected corruptions:  %d
Decode errors:         %d
Integrity failures:    %d
Out-of-order arrivals: %d
Buffer drops:          %d
Elapsed:               %s
Throughput:            %.2f KB/s
`,
		ss.BytesSent, ss.BytesDelivered, ss.SegmentsSent, ss.SegmentsReceived,
		ss.AcksSent, ss.AcksReceived, ss.DupAcksSent, ss.DupAcksReceived,
		ss.Retransmissions, ss.FastRetransmits, ss.Timeouts, ss.SackRemovals,
		ss.DropsInjected, ss.CorruptsInjected, ss.DecodeErrors, ss.IntegrityErrors,
		ss.OutOfOrder, ss.BufferDrops, ss.Elapsed.Round(time.Millisecond), ss.Throughput())
	return err
}
