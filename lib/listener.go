package lib

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/CREVIOS/Computer-Networking/config"
	"github.com/CREVIOS/Computer-Networking/logger"
)

// Listener accepts raw channel connections, runs the responder side of
// the handshake on each and hands back established connections.
type Listener struct {
	ln    net.Listener
	cfg   *config.Config
	fault *RandomFault
	conns chan *Connection

	closeSignal chan struct{}
	closeOnce   sync.Once
	closeErr    error
	wg          sync.WaitGroup
}

// ListenRdt listens on addr and starts accepting in the background.
func ListenRdt(addr string, cfg *config.Config) (*Listener, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ensurePool(cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	l := &Listener{
		ln:          ln,
		cfg:         cfg,
		fault:       NewRandomFault(cfg.LossRate, cfg.CorruptionRate, cfg.LossWarmupSegments, cfg.FaultSeed),
		conns:       make(chan *Connection, 16),
		closeSignal: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	logger.Infof("listening on %s", ln.Addr())
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closeSignal:
			default:
				logger.Errorf("accept: %s", err)
			}
			return
		}
		l.wg.Add(1)
		go l.establish(raw)
	}
}

// establish runs the responder handshake on its own goroutine so a
// stalled peer cannot block further accepts.
func (l *Listener) establish(raw net.Conn) {
	defer l.wg.Done()
	ch := NewConnChannel(raw)
	conn, err := newConnection(raw.RemoteAddr().String(), ch, l.cfg, l.fault, false)
	if err != nil {
		logger.Errorf("%s: %s", raw.RemoteAddr(), err)
		ch.Close()
		return
	}
	if err := conn.acceptHandshake(); err != nil {
		logger.Errorf("%s: %s", conn.key, err)
		conn.Close()
		return
	}
	select {
	case l.conns <- conn:
	case <-l.closeSignal:
		conn.Close()
	}
}

// Accept blocks for the next established connection.
func (l *Listener) Accept() (*Connection, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closeSignal:
		return nil, ErrListenerClosed
	}
}

// Addr is the address the listener is bound to.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// SetFaultRates retunes the fault policy applied to every connection
// this listener established.
func (l *Listener) SetFaultRates(lossRate, corruptionRate float64) {
	l.fault.SetRates(lossRate, corruptionRate)
}

// Close stops accepting, closes the socket and discards connections
// nobody picked up.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closeSignal)
		l.closeErr = l.ln.Close()
		l.wg.Wait()
		for {
			select {
			case conn := <-l.conns:
				conn.Close()
			default:
				return
			}
		}
	})
	return l.closeErr
}
