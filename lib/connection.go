package lib

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/CREVIOS/Computer-Networking/config"
	"github.com/CREVIOS/Computer-Networking/logger"
)

// Connection is one established transport endpoint over a message
// channel. A connection carries at most one streamed transfer in each
// direction; SendStream and ReceiveStream run on the caller's
// goroutine and block until the transfer finishes.
type Connection struct {
	key           string
	channel       MessageChannel
	cfg           *config.Config
	mode          CongestionMode
	fault         FaultPolicy
	stats         *TransferStats
	negotiatedMSS int
	peerWindow    int
	established   bool
	isInitiator   bool

	send *sendEngine
	recv *recvEngine

	closeOnce sync.Once
	closeErr  error
}

func newConnection(key string, ch MessageChannel, cfg *config.Config, fault FaultPolicy, initiator bool) (*Connection, error) {
	mode, err := ParseCongestionMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if fault == nil {
		fault = NoFault{}
	}
	return &Connection{
		key:           key,
		channel:       ch,
		cfg:           cfg,
		mode:          mode,
		fault:         fault,
		stats:         newTransferStats(),
		negotiatedMSS: cfg.MSS,
		peerWindow:    cfg.WindowSize,
		isInitiator:   initiator,
	}, nil
}

// sendPacket marshals one control-path segment onto the channel,
// bypassing fault injection: only streamed data faces the simulated
// network. The payload chunk, if any, is returned after the send.
func (c *Connection) sendPacket(p *Packet) error {
	err := c.channel.Send(p.Marshal())
	p.ReturnChunk()
	return err
}

// awaitPacket reads from the channel until a decodable segment arrives
// or the deadline passes. Undecodable messages are counted and
// skipped, never fatal.
func (c *Connection) awaitPacket(deadline time.Time) (*Packet, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{msg: "timed out waiting for segment"}
		}
		wait := remaining
		if rt := c.cfg.ReadTimeout(); rt < wait {
			wait = rt
		}
		data, err := c.channel.Receive(wait)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
		packet := &Packet{}
		if uerr := packet.Unmarshal(data); uerr != nil {
			c.stats.DecodeErrors.Inc()
			logger.Warnf("%s: dropping undecodable message: %s", c.key, uerr)
			continue
		}
		return packet, nil
	}
}

// SendStream transfers src to the peer and blocks until every byte is
// acknowledged and the stream is closed down, or the transfer dies.
// The returned snapshot covers this connection's counters either way.
func (c *Connection) SendStream(src io.Reader) (StatsSnapshot, error) {
	if !c.established {
		return c.stats.Snapshot(), errors.Wrap(ErrHandshakeFailed, "connection not established")
	}
	e := newSendEngine(c)
	c.send = e
	err := e.Run(src)
	return c.stats.Snapshot(), err
}

// ReceiveStream writes the peer's stream to sink in order, returning
// once the peer closes the stream or the transfer dies.
func (c *Connection) ReceiveStream(sink io.Writer) (StatsSnapshot, error) {
	if !c.established {
		return c.stats.Snapshot(), errors.Wrap(ErrHandshakeFailed, "connection not established")
	}
	e := newRecvEngine(c)
	c.recv = e
	err := e.Run(sink)
	return c.stats.Snapshot(), err
}

// WriteMessage sends one short application message, such as a file
// request, outside the streamed transfer. Stop-and-wait: the call
// returns once the peer acknowledged the message.
func (c *Connection) WriteMessage(payload []byte) error {
	if !c.established {
		return errors.Wrap(ErrHandshakeFailed, "connection not established")
	}
	expect := requestSeq + len(payload)
	req := NewPacket(requestSeq, 0, DATAFlag, c.cfg.WindowSize, payload)
	if err := c.sendPacket(req); err != nil {
		return errors.Wrap(err, "send message")
	}
	logger.Debugf("%s: message sent, seq=%d len=%d", c.key, requestSeq, len(payload))

	deadline := time.Now().Add(c.cfg.HandshakeTimeout())
	for {
		p, err := c.awaitPacket(deadline)
		if err != nil {
			return errors.Wrapf(err, "message seq=%d not acknowledged", requestSeq)
		}
		matched := p.Flags&ACKFlag != 0 && p.AckNum == expect
		p.ReturnChunk()
		if matched {
			return nil
		}
	}
}

// ReadMessage blocks for the peer's next application message and
// acknowledges it.
func (c *Connection) ReadMessage() ([]byte, error) {
	if !c.established {
		return nil, errors.Wrap(ErrHandshakeFailed, "connection not established")
	}
	deadline := time.Now().Add(c.cfg.IdleTimeout())
	for {
		p, err := c.awaitPacket(deadline)
		if err != nil {
			return nil, errors.Wrap(err, "await message")
		}
		if p.Flags&DATAFlag == 0 || len(p.Payload) == 0 {
			logger.Debugf("%s: ignoring control segment while awaiting message, flags=%s", c.key, FormatFlags(p.Flags))
			p.ReturnChunk()
			continue
		}
		if !p.VerifyChecksum() {
			c.stats.IntegrityErrors.Inc()
			logger.Warnf("%s: %s, discarding message", c.key,
				&IntegrityError{SeqNum: p.SeqNum, Expected: p.Checksum, Got: p.CalculateChecksum()})
			p.ReturnChunk()
			continue
		}
		msg := append([]byte(nil), p.Payload...)
		ack := NewPacket(0, p.SeqNum+len(p.Payload), ACKFlag, c.cfg.WindowSize, nil)
		p.ReturnChunk()
		if err := c.sendPacket(ack); err != nil {
			return nil, errors.Wrap(err, "acknowledge message")
		}
		c.stats.AcksSent.Inc()
		logger.Debugf("%s: message received, len=%d", c.key, len(msg))
		return msg, nil
	}
}

// SetFaultRates retunes the connection's fault policy at runtime. A
// no-op for policies without adjustable rates.
func (c *Connection) SetFaultRates(lossRate, corruptionRate float64) {
	if rf, ok := c.fault.(*RandomFault); ok {
		rf.SetRates(lossRate, corruptionRate)
	}
}

// Stats snapshots this connection's transfer counters.
func (c *Connection) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// NegotiatedMSS is the segment size both sides agreed on.
func (c *Connection) NegotiatedMSS() int {
	return c.negotiatedMSS
}

func (c *Connection) LocalAddr() string {
	return c.channel.LocalAddr()
}

func (c *Connection) RemoteAddr() string {
	return c.channel.RemoteAddr()
}

// Close tears the connection down. Engines blocked on the channel
// observe the closure and unwind.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		var errs error
		if c.send != nil {
			c.send.shutdown()
		}
		if err := c.channel.Close(); err != nil && !errors.Is(err, ErrChannelClosed) {
			errs = multierr.Append(errs, errors.Wrap(err, "close channel"))
		}
		c.closeErr = errs
		logger.Debugf("%s: connection closed", c.key)
	})
	return c.closeErr
}
