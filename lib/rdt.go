package lib

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/CREVIOS/Computer-Networking/config"
)

var poolOnce sync.Once

// ensurePool sizes the shared payload pool from the first
// configuration that reaches the engine. Later configurations reuse
// the same pool.
func ensurePool(cfg *config.Config) {
	poolOnce.Do(func() {
		InitPool(cfg.PayloadPoolSize, maxPayloadBufferSize, cfg.PoolDebug, cfg.ProcessTimeThresholdMs)
	})
}

// DialRdt connects to a listener, completes the handshake and returns
// the established connection.
func DialRdt(addr string, cfg *config.Config) (*Connection, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ensurePool(cfg)
	raw, err := net.DialTimeout("tcp", addr, cfg.HandshakeTimeout())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	ch := NewConnChannel(raw)
	fault := NewRandomFault(cfg.LossRate, cfg.CorruptionRate, cfg.LossWarmupSegments, cfg.FaultSeed)
	conn, err := newConnection(addr, ch, cfg, fault, true)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := conn.initiateHandshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
