package lib

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/CREVIOS/Computer-Networking/logger"
)

// sendEngine drives one outbound transfer. It owns the congestion
// state machine, the RTT estimator, the in-flight table and the
// per-segment retransmission timers. The worker goroutine running Run
// and the timer callbacks both serialize through mu; nothing below mu
// may be touched without it.
type sendEngine struct {
	conn *Connection
	mode CongestionMode
	mss  int

	mu              sync.Mutex
	state           CongestionState
	cwnd            int
	ssthresh        int
	peerWindow      int
	baseSeq         int
	nextSeq         int
	lastAckReceived int
	dupAckCount     int
	recoveryExit    int
	inflight        *SentPackets
	timers          map[int]*time.Timer
	rtt             *RttEstimator
	sourceDone      bool
	stallErr        error
	closed          bool
}

func newSendEngine(c *Connection) *sendEngine {
	return &sendEngine{
		conn:       c,
		mode:       c.mode,
		mss:        c.negotiatedMSS,
		state:      SlowStart,
		cwnd:       c.negotiatedMSS,
		ssthresh:   c.cfg.InitialSsthresh,
		peerWindow: c.peerWindow,
		baseSeq:    dataStartSeq,
		nextSeq:    dataStartSeq,
		inflight:   newSentPackets(),
		timers:     make(map[int]*time.Timer),
		rtt:        NewRttEstimator(c.cfg.RtoInitial(), c.cfg.RtoMin(), c.cfg.RtoMax()),
	}
}

// Run pumps src through the channel until every byte is acknowledged,
// then performs the FIN exchange. It returns ErrRetryExhausted when a
// segment gave up, or the channel error that ended the transfer.
func (e *sendEngine) Run(src io.Reader) error {
	stats := e.conn.stats
	stats.MarkStart()
	defer stats.MarkEnd()
	defer e.shutdown()

	scratch := make([]byte, e.mss)
	for {
		if err := e.fillWindow(src, scratch); err != nil {
			return err
		}
		e.mu.Lock()
		stalled := e.stallErr
		done := e.sourceDone && e.inflight.Len() == 0 && e.baseSeq == e.nextSeq
		e.mu.Unlock()
		if stalled != nil {
			return stalled
		}
		if done {
			break
		}
		if err := e.drainAcks(); err != nil {
			return err
		}
	}
	logger.Debugf("%s: all %d bytes acknowledged", e.conn.key, e.nextSeq-dataStartSeq)
	return e.sendFin()
}

// fillWindow carves segments from src while min(cwnd, peer window)
// leaves headroom, records each one in the in-flight table, arms its
// retransmission timer and hands it to the channel.
func (e *sendEngine) fillWindow(src io.Reader, scratch []byte) error {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrConnectionClosed
		}
		if e.sourceDone || e.stallErr != nil {
			e.mu.Unlock()
			return nil
		}
		effective := minInt(e.cwnd, e.peerWindow)
		size := minInt(e.mss, effective-e.inflight.Bytes())
		e.mu.Unlock()
		if size <= 0 {
			return nil
		}

		n, err := io.ReadFull(src, scratch[:size])
		if n > 0 {
			e.mu.Lock()
			packet := NewPacket(e.nextSeq, 0, DATAFlag, e.conn.cfg.WindowSize, scratch[:n])
			e.inflight.Add(packet, n)
			e.nextSeq += n
			e.conn.stats.BytesSent.Add(int64(n))
			e.armTimer(packet.SeqNum)
			e.mu.Unlock()
			if terr := e.transmit(packet, 0, false); terr != nil {
				return terr
			}
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				e.mu.Lock()
				e.sourceDone = true
				e.mu.Unlock()
				return nil
			}
			return errors.Wrap(err, "read data source")
		}
	}
}

// transmit pushes one data segment through the fault policy and onto
// the channel. A dropped segment stays in the in-flight table so its
// timer recovers it; a corrupted one goes out with a skewed integrity
// code on a copy, leaving the original intact for retransmission.
func (e *sendEngine) transmit(p *Packet, resendCount int, retransmit bool) error {
	stats := e.conn.stats
	if e.conn.fault.DropSegment(p.SeqNum, resendCount) {
		stats.DropsInjected.Inc()
		logger.Infof("%s: simulating loss of seq=%d len=%d resend=%d", e.conn.key, p.SeqNum, len(p.Payload), resendCount)
		return nil
	}
	var data []byte
	if e.conn.fault.CorruptSegment(p.SeqNum, resendCount) {
		stats.CorruptsInjected.Inc()
		damaged := *p
		damaged.Checksum += checksumSkew
		data = damaged.Marshal()
		logger.Infof("%s: corrupting seq=%d len=%d", e.conn.key, p.SeqNum, len(p.Payload))
	} else {
		data = p.Marshal()
	}
	if err := e.conn.channel.Send(data); err != nil {
		return errors.Wrapf(err, "send seq=%d", p.SeqNum)
	}
	stats.SegmentsSent.Inc()
	if retransmit {
		logger.Debugf("%s: retransmitted seq=%d len=%d attempt=%d", e.conn.key, p.SeqNum, len(p.Payload), resendCount)
	} else {
		logger.Debugf("%s: sent seq=%d len=%d", e.conn.key, p.SeqNum, len(p.Payload))
	}
	return nil
}

// drainAcks blocks up to one ack poll interval for the first message,
// then keeps draining whatever is already queued before returning to
// the send loop.
func (e *sendEngine) drainAcks() error {
	wait := e.conn.cfg.AckPoll()
	for {
		data, err := e.conn.channel.Receive(wait)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return errors.Wrap(err, "ack channel")
		}
		wait = time.Millisecond
		packet := &Packet{}
		if uerr := packet.Unmarshal(data); uerr != nil {
			e.conn.stats.DecodeErrors.Inc()
			logger.Warnf("%s: dropping undecodable message: %s", e.conn.key, uerr)
			continue
		}
		if packet.Flags&ACKFlag == 0 {
			logger.Debugf("%s: ignoring non-ack segment, flags=%s", e.conn.key, FormatFlags(packet.Flags))
			packet.ReturnChunk()
			continue
		}
		e.handleAck(packet)
	}
}

func (e *sendEngine) handleAck(p *Packet) {
	e.conn.stats.AcksReceived.Inc()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.peerWindow = maxInt(p.WindowSize, e.mss)
	switch {
	case p.AckNum > e.baseSeq:
		e.handleNewAck(p.AckNum)
	case p.AckNum == e.lastAckReceived:
		e.handleDuplicateAck()
	}
	e.lastAckReceived = p.AckNum
	for _, block := range p.SackBlocks {
		e.handleSackBlock(block)
	}
}

// handleNewAck retires every record the cumulative ack covers, feeds
// the RTT estimator from the oldest never-retransmitted one and grows
// or deflates the congestion window.
func (e *sendEngine) handleNewAck(ackNum int) {
	base := e.baseSeq
	newlyAcked := 0
	for _, info := range e.inflight.CoveredByAck(ackNum) {
		if info.seq() == base && info.resendCount == 0 {
			e.rtt.OnSample(time.Since(info.sendTime))
		}
		e.cancelTimer(info.seq())
		e.inflight.Remove(info.seq())
		info.packet.ReturnChunk()
		newlyAcked += info.size
	}
	e.baseSeq = ackNum
	e.dupAckCount = 0

	if e.state == FastRecovery {
		if ackNum >= e.recoveryExit {
			e.cwnd = e.ssthresh
			e.state = CongestionAvoidance
			logger.Debugf("%s: leaving fast recovery, cwnd=%d", e.conn.key, e.cwnd)
		} else {
			// partial ack, deflate by what left the network
			e.cwnd = maxInt(e.cwnd-newlyAcked+e.mss, e.mss)
		}
		return
	}
	e.updateCongestionWindow()
}

func (e *sendEngine) updateCongestionWindow() {
	if e.state == SlowStart {
		e.cwnd += e.mss
		if e.cwnd >= e.ssthresh {
			e.state = CongestionAvoidance
			logger.Debugf("%s: slow start -> congestion avoidance, cwnd=%d", e.conn.key, e.cwnd)
		}
		return
	}
	e.cwnd += maxInt(e.mss*e.mss/e.cwnd, 1)
}

func (e *sendEngine) handleDuplicateAck() {
	e.conn.stats.DupAcksReceived.Inc()
	e.dupAckCount++
	if e.dupAckCount == 3 && e.state != FastRecovery {
		e.fastRetransmit()
	} else if e.state == FastRecovery && e.mode == Reno {
		// window inflation, one MSS per further duplicate
		e.cwnd += e.mss
	}
}

// fastRetransmit resends the oldest unacknowledged segment after three
// duplicate acks. Tahoe collapses to slow start; Reno halves into fast
// recovery and remembers where it may leave it.
func (e *sendEngine) fastRetransmit() {
	stats := e.conn.stats
	stats.FastRetransmits.Inc()
	e.ssthresh = maxInt(e.cwnd/2, 2*e.mss)
	if e.mode == Tahoe {
		e.cwnd = e.mss
		e.state = SlowStart
	} else {
		e.cwnd = e.ssthresh + 3*e.mss
		e.state = FastRecovery
		e.recoveryExit = e.nextSeq
	}
	e.dupAckCount = 0

	info, ok := e.inflight.Get(e.baseSeq)
	if !ok {
		// already selectively acknowledged
		logger.Debugf("%s: fast retransmit skipped, seq=%d no longer tracked", e.conn.key, e.baseSeq)
		return
	}
	logger.Infof("%s: fast retransmit of seq=%d (%s), cwnd=%d ssthresh=%d",
		e.conn.key, e.baseSeq, e.state, e.cwnd, e.ssthresh)
	info.resendCount++
	info.sendTime = time.Now()
	stats.Retransmissions.Inc()
	e.armTimer(info.seq())
	if err := e.transmit(info.packet, info.resendCount, true); err != nil && e.stallErr == nil {
		e.stallErr = err
	}
}

// handleSackBlock retires records fully inside a selectively
// acknowledged range so they are never retransmitted.
func (e *sendEngine) handleSackBlock(block SackBlock) {
	for _, info := range e.inflight.CoveredBySack(block) {
		e.cancelTimer(info.seq())
		e.inflight.Remove(info.seq())
		info.packet.ReturnChunk()
		e.conn.stats.SackRemovals.Inc()
		logger.Debugf("%s: seq=%d selectively acknowledged", e.conn.key, info.seq())
	}
}

// armTimer (re)starts the retransmission timer for seq with the
// current RTO. Caller holds mu.
func (e *sendEngine) armTimer(seq int) {
	if t, ok := e.timers[seq]; ok {
		t.Stop()
	}
	e.timers[seq] = time.AfterFunc(e.rtt.CurrentRto(), func() { e.onTimeout(seq) })
}

func (e *sendEngine) cancelTimer(seq int) {
	if t, ok := e.timers[seq]; ok {
		t.Stop()
		delete(e.timers, seq)
	}
}

// onTimeout runs on the timer goroutine when a segment's RTO expires.
// Finding the record gone means an ack or SACK won the race and there
// is nothing to do.
func (e *sendEngine) onTimeout(seq int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	delete(e.timers, seq)
	info, ok := e.inflight.Get(seq)
	if !ok {
		return
	}
	stats := e.conn.stats
	stats.Timeouts.Inc()

	if info.resendCount >= e.conn.cfg.RetryLimit {
		e.inflight.Remove(seq)
		info.packet.ReturnChunk()
		if e.stallErr == nil {
			e.stallErr = errors.Wrapf(ErrRetryExhausted, "seq=%d after %d attempts", seq, info.resendCount+1)
		}
		logger.Errorf("%s: giving up on seq=%d after %d retransmissions", e.conn.key, seq, info.resendCount)
		return
	}

	e.ssthresh = maxInt(e.cwnd/2, 2*e.mss)
	e.cwnd = e.mss
	e.state = SlowStart
	e.dupAckCount = 0
	e.rtt.OnTimeout()
	logger.Infof("%s: timeout for seq=%d, cwnd=%d ssthresh=%d rto=%s",
		e.conn.key, seq, e.cwnd, e.ssthresh, e.rtt.CurrentRto())

	info.resendCount++
	info.sendTime = time.Now()
	stats.Retransmissions.Inc()
	e.armTimer(seq)
	if err := e.transmit(info.packet, info.resendCount, true); err != nil && e.stallErr == nil {
		e.stallErr = err
	}
}

// sendFin runs the teardown exchange: FIN out, wait bounded for the
// peer's FIN-ACK, answer it with a final ack. Teardown is best effort;
// a silent peer only costs the wait.
func (e *sendEngine) sendFin() error {
	e.mu.Lock()
	finSeq := e.nextSeq
	e.mu.Unlock()

	fin := NewPacket(finSeq, 0, FINFlag, e.conn.cfg.WindowSize, nil)
	if err := e.conn.sendPacket(fin); err != nil {
		return errors.Wrap(err, "send FIN")
	}
	logger.Debugf("%s: FIN sent, seq=%d", e.conn.key, finSeq)

	deadline := time.Now().Add(e.conn.cfg.FinWait())
	for {
		p, err := e.conn.awaitPacket(deadline)
		if err != nil {
			logger.Warnf("%s: closing without FIN-ACK: %s", e.conn.key, err)
			return nil
		}
		matched := p.Flags&FINFlag != 0 && p.Flags&ACKFlag != 0 && p.AckNum >= finSeq
		peerSeq := p.SeqNum
		p.ReturnChunk()
		if matched {
			final := NewPacket(0, peerSeq+1, ACKFlag, e.conn.cfg.WindowSize, nil)
			if err := e.conn.sendPacket(final); err != nil {
				logger.Warnf("%s: final ack not sent: %s", e.conn.key, err)
			}
			logger.Debugf("%s: FIN-ACK received, teardown complete", e.conn.key)
			return nil
		}
		// stray ack from the data phase, keep waiting
	}
}

// shutdown stops every timer and returns the in-flight chunks to the
// pool. Safe to call more than once.
func (e *sendEngine) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for seq, t := range e.timers {
		t.Stop()
		delete(e.timers, seq)
	}
	for _, info := range e.inflight.All() {
		e.inflight.Remove(info.seq())
		info.packet.ReturnChunk()
	}
}
