package lib

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/CREVIOS/Computer-Networking/logger"
)

// recvEngine reassembles one inbound transfer. It runs entirely on the
// goroutine calling Run, so unlike the send engine it needs no lock:
// acks are generated inline and there are no timers on this side.
type recvEngine struct {
	conn        *Connection
	state       int
	mss         int
	expectedSeq int
	lastAckSent int
	buf         *ReceiveBuffer
	sink        io.Writer
}

func newRecvEngine(c *Connection) *recvEngine {
	return &recvEngine{
		conn:        c,
		state:       AwaitingHandshake,
		mss:         c.negotiatedMSS,
		expectedSeq: dataStartSeq,
		lastAckSent: dataStartSeq,
		buf:         newReceiveBuffer(c.cfg.ReceiveBufferPackets),
	}
}

// Run receives until the peer's FIN, writing in-order bytes to sink as
// they become contiguous. A peer silent for the idle timeout or a
// channel that closes mid-stream ends the transfer with
// ErrIncompleteTransfer.
func (e *recvEngine) Run(sink io.Writer) error {
	stats := e.conn.stats
	stats.MarkStart()
	defer stats.MarkEnd()
	defer e.shutdown()

	e.sink = sink
	e.state = Transferring
	idleDeadline := time.Now().Add(e.conn.cfg.IdleTimeout())
	for {
		data, err := e.conn.channel.Receive(e.conn.cfg.ReadTimeout())
		if err != nil {
			if isTimeout(err) {
				if time.Now().After(idleDeadline) {
					return errors.Wrapf(ErrIncompleteTransfer, "peer silent for %s at offset %d",
						e.conn.cfg.IdleTimeout(), e.expectedSeq)
				}
				continue
			}
			return errors.Wrapf(ErrIncompleteTransfer, "channel closed at offset %d: %s", e.expectedSeq, err)
		}
		idleDeadline = time.Now().Add(e.conn.cfg.IdleTimeout())

		packet := &Packet{}
		if uerr := packet.Unmarshal(data); uerr != nil {
			stats.DecodeErrors.Inc()
			logger.Warnf("%s: dropping undecodable message: %s", e.conn.key, uerr)
			continue
		}
		stats.SegmentsReceived.Inc()

		if !packet.VerifyChecksum() {
			stats.IntegrityErrors.Inc()
			logger.Warnf("%s: %s, discarding", e.conn.key,
				&IntegrityError{SeqNum: packet.SeqNum, Expected: packet.Checksum, Got: packet.CalculateChecksum()})
			packet.ReturnChunk()
			if err := e.sendDupAck(); err != nil {
				return err
			}
			continue
		}

		if packet.Flags&FINFlag != 0 {
			err := e.handleFin(packet)
			e.state = Closed
			return err
		}
		if packet.Flags&DATAFlag == 0 || len(packet.Payload) == 0 {
			// stray control segment, nothing to do on this side
			logger.Debugf("%s: ignoring control segment, flags=%s", e.conn.key, FormatFlags(packet.Flags))
			packet.ReturnChunk()
			continue
		}
		if err := e.handleData(packet); err != nil {
			return err
		}
	}
}

// handleData applies the arrival rules: deliver and ack at the
// expected offset, buffer ahead of it, re-ack behind it.
func (e *recvEngine) handleData(p *Packet) error {
	switch {
	case p.SeqNum == e.expectedSeq:
		if err := e.deliver(p); err != nil {
			return err
		}
		if err := e.drainBuffered(); err != nil {
			return err
		}
		return e.sendCumulativeAck()

	case p.SeqNum > e.expectedSeq:
		e.conn.stats.OutOfOrder.Inc()
		if e.buf.Insert(p) {
			logger.Debugf("%s: buffered out-of-order seq=%d len=%d (%d held)",
				e.conn.key, p.SeqNum, len(p.Payload), e.buf.Len())
		} else {
			e.conn.stats.BufferDrops.Inc()
			logger.Warnf("%s: reassembly buffer full, dropping seq=%d", e.conn.key, p.SeqNum)
			p.ReturnChunk()
		}
		return e.sendDupAck()

	default:
		// old or duplicate segment, the ack it needs is a repeat
		logger.Debugf("%s: duplicate seq=%d below expected %d", e.conn.key, p.SeqNum, e.expectedSeq)
		p.ReturnChunk()
		return e.sendDupAck()
	}
}

// deliver writes one in-order segment to the sink and advances the
// expected offset.
func (e *recvEngine) deliver(p *Packet) error {
	n := len(p.Payload)
	if _, err := e.sink.Write(p.Payload); err != nil {
		p.ReturnChunk()
		return errors.Wrapf(err, "deliver %d bytes at offset %d", n, p.SeqNum)
	}
	e.conn.stats.BytesDelivered.Add(int64(n))
	e.expectedSeq += n
	p.ReturnChunk()
	return nil
}

// drainBuffered delivers every buffered segment that has become
// contiguous with the expected offset.
func (e *recvEngine) drainBuffered() error {
	for {
		p, ok := e.buf.Take(e.expectedSeq)
		if !ok {
			return nil
		}
		if err := e.deliver(p); err != nil {
			return err
		}
	}
}

// sendCumulativeAck acknowledges everything delivered so far,
// advertising the remaining buffer window and whatever out-of-order
// spans are still held.
func (e *recvEngine) sendCumulativeAck() error {
	ack := NewPacket(0, e.expectedSeq, ACKFlag, e.buf.AvailableWindow(e.conn.cfg.WindowSize, e.mss), nil)
	if e.buf.Len() > 0 {
		ack.SackBlocks = e.buf.SackSpans()
	}
	if err := e.conn.sendPacket(ack); err != nil {
		return errors.Wrap(err, "send ack")
	}
	e.conn.stats.AcksSent.Inc()
	e.lastAckSent = e.expectedSeq
	logger.Debugf("%s: ack=%d window=%d sack=%d", e.conn.key, ack.AckNum, ack.WindowSize, len(ack.SackBlocks))
	return nil
}

// sendDupAck repeats the last cumulative ack so the sender sees the
// gap, carrying the buffered spans for selective acknowledgement.
func (e *recvEngine) sendDupAck() error {
	ack := NewPacket(0, e.lastAckSent, ACKFlag, e.buf.AvailableWindow(e.conn.cfg.WindowSize, e.mss), nil)
	if e.buf.Len() > 0 {
		ack.SackBlocks = e.buf.SackSpans()
	}
	if err := e.conn.sendPacket(ack); err != nil {
		return errors.Wrap(err, "send dup ack")
	}
	e.conn.stats.DupAcksSent.Inc()
	logger.Debugf("%s: dup ack=%d sack=%d", e.conn.key, ack.AckNum, len(ack.SackBlocks))
	return nil
}

// handleFin finishes the stream: any in-order payload riding on the
// FIN is delivered first, then the FIN-ACK goes out and a bounded wait
// absorbs the sender's final ack.
func (e *recvEngine) handleFin(p *Packet) error {
	logger.Debugf("%s: FIN received, seq=%d", e.conn.key, p.SeqNum)
	if p.Flags&DATAFlag != 0 && len(p.Payload) > 0 && p.SeqNum == e.expectedSeq {
		if err := e.deliver(p); err != nil {
			return err
		}
		if err := e.drainBuffered(); err != nil {
			return err
		}
	} else {
		p.ReturnChunk()
	}

	finAck := NewPacket(0, e.expectedSeq, FINFlag|ACKFlag, e.buf.AvailableWindow(e.conn.cfg.WindowSize, e.mss), nil)
	if err := e.conn.sendPacket(finAck); err != nil {
		return errors.Wrap(err, "send FIN-ACK")
	}
	e.conn.stats.AcksSent.Inc()

	deadline := time.Now().Add(e.conn.cfg.FinWait())
	for {
		seg, err := e.conn.awaitPacket(deadline)
		if err != nil {
			logger.Warnf("%s: closing without final ack: %s", e.conn.key, err)
			return nil
		}
		flags := seg.Flags
		seg.ReturnChunk()
		switch {
		case flags&FINFlag != 0 && flags&ACKFlag == 0:
			// FIN again, our FIN-ACK was not seen yet
			resend := NewPacket(0, e.expectedSeq, FINFlag|ACKFlag, e.buf.AvailableWindow(e.conn.cfg.WindowSize, e.mss), nil)
			if err := e.conn.sendPacket(resend); err != nil {
				logger.Warnf("%s: FIN-ACK resend failed: %s", e.conn.key, err)
				return nil
			}
		case flags&ACKFlag != 0:
			logger.Debugf("%s: final ack received, teardown complete", e.conn.key)
			return nil
		}
	}
}

// shutdown returns any still-buffered chunks to the pool.
func (e *recvEngine) shutdown() {
	for _, p := range e.buf.All() {
		e.buf.Take(p.SeqNum)
		p.ReturnChunk()
	}
	e.state = Closed
}
