package lib

import (
	"time"

	"github.com/pkg/errors"

	"github.com/CREVIOS/Computer-Networking/logger"
)

// Three-way handshake. The initiator opens with SYN carrying its MSS
// proposal, the responder answers SYN-ACK with the negotiated value,
// the initiator confirms with a bare ACK. Both sides settle on
// min(initiator MSS, responder MSS) and learn the peer's receive
// window from the exchanged segments.

func (c *Connection) initiateHandshake() error {
	syn := NewPacket(initiatorISN, 0, SYNFlag, c.cfg.WindowSize, nil)
	syn.MssOption = c.cfg.MSS
	if err := c.sendPacket(syn); err != nil {
		return errors.Wrap(err, "send SYN")
	}
	logger.Debugf("%s: SYN sent, seq=%d mss=%d", c.key, syn.SeqNum, syn.MssOption)

	deadline := time.Now().Add(c.cfg.HandshakeTimeout())
	synAck, err := c.awaitPacket(deadline)
	if err != nil {
		return errors.Wrapf(ErrHandshakeFailed, "waiting for SYN-ACK: %s", err)
	}
	defer synAck.ReturnChunk()
	if synAck.Flags != SYNFlag|ACKFlag {
		return errors.Wrapf(ErrHandshakeFailed, "expected SYN-ACK, got flags %s", FormatFlags(synAck.Flags))
	}
	if synAck.AckNum != initiatorISN+1 {
		return errors.Wrapf(ErrHandshakeFailed, "SYN-ACK acknowledges %d, want %d", synAck.AckNum, initiatorISN+1)
	}

	c.negotiatedMSS = c.cfg.MSS
	if synAck.MssOption > 0 {
		c.negotiatedMSS = minInt(c.cfg.MSS, synAck.MssOption)
	}
	c.peerWindow = maxInt(synAck.WindowSize, c.negotiatedMSS)

	ack := NewPacket(initiatorISN+1, synAck.SeqNum+1, ACKFlag, c.cfg.WindowSize, nil)
	if err := c.sendPacket(ack); err != nil {
		return errors.Wrap(err, "send handshake ACK")
	}
	c.established = true
	logger.Infof("%s: connection established, mss=%d peerWindow=%d", c.key, c.negotiatedMSS, c.peerWindow)
	return nil
}

func (c *Connection) acceptHandshake() error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout())
	syn, err := c.awaitPacket(deadline)
	if err != nil {
		return errors.Wrapf(ErrHandshakeFailed, "waiting for SYN: %s", err)
	}
	defer syn.ReturnChunk()
	if syn.Flags != SYNFlag {
		return errors.Wrapf(ErrHandshakeFailed, "expected SYN, got flags %s", FormatFlags(syn.Flags))
	}
	logger.Debugf("%s: SYN received, seq=%d mss=%d", c.key, syn.SeqNum, syn.MssOption)

	c.negotiatedMSS = c.cfg.MSS
	if syn.MssOption > 0 {
		c.negotiatedMSS = minInt(c.cfg.MSS, syn.MssOption)
	}
	c.peerWindow = maxInt(syn.WindowSize, c.negotiatedMSS)

	synAck := NewPacket(responderISN, syn.SeqNum+1, SYNFlag|ACKFlag, c.cfg.WindowSize, nil)
	synAck.MssOption = c.negotiatedMSS
	if err := c.sendPacket(synAck); err != nil {
		return errors.Wrap(err, "send SYN-ACK")
	}

	ack, err := c.awaitPacket(deadline)
	if err != nil {
		return errors.Wrapf(ErrHandshakeFailed, "waiting for handshake ACK: %s", err)
	}
	defer ack.ReturnChunk()
	if ack.Flags&ACKFlag == 0 || ack.Flags&SYNFlag != 0 {
		return errors.Wrapf(ErrHandshakeFailed, "expected ACK, got flags %s", FormatFlags(ack.Flags))
	}
	if ack.AckNum != responderISN+1 {
		return errors.Wrapf(ErrHandshakeFailed, "handshake ACK acknowledges %d, want %d", ack.AckNum, responderISN+1)
	}
	c.established = true
	logger.Infof("%s: connection established, mss=%d peerWindow=%d", c.key, c.negotiatedMSS, c.peerWindow)
	return nil
}
