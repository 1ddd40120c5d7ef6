package lib

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/CREVIOS/Computer-Networking/logger"
)

// MessageChannel is the engine's view of the underlying reliable,
// message-oriented transport. Each Send delivers one whole wire message
// or fails; Receive waits at most the given duration and returns a
// timeout error the engine treats as "nothing there yet". Send takes
// ownership of msg.
type MessageChannel interface {
	Send(msg []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
	LocalAddr() string
	RemoteAddr() string
}

const inputChannelDepth = 512

// connChannel frames messages as newline-terminated lines over a
// net.Conn, the way the engine's reference deployment runs over a
// regular TCP connection. A dedicated goroutine feeds complete lines
// into the input channel so bounded-wait reads never tear a message.
type connChannel struct {
	conn        net.Conn
	inputChan   chan []byte
	closeSignal chan struct{}
	closeOnce   sync.Once
	sendMu      sync.Mutex
	readErr     atomic.Error
	wg          sync.WaitGroup
}

// NewConnChannel wraps an established net.Conn.
func NewConnChannel(conn net.Conn) MessageChannel {
	ch := &connChannel{
		conn:        conn,
		inputChan:   make(chan []byte, inputChannelDepth),
		closeSignal: make(chan struct{}),
	}
	ch.wg.Add(1)
	go ch.handleIncomingMessages()
	return ch
}

func (ch *connChannel) handleIncomingMessages() {
	defer ch.wg.Done()
	defer close(ch.inputChan)

	reader := bufio.NewReaderSize(ch.conn, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			select {
			case ch.inputChan <- line:
			case <-ch.closeSignal:
				return
			}
		}
		if err != nil {
			ch.readErr.Store(err)
			return
		}
	}
}

func (ch *connChannel) Send(msg []byte) error {
	select {
	case <-ch.closeSignal:
		return ErrChannelClosed
	default:
	}

	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	if _, err := ch.conn.Write(buf); err != nil {
		return errors.Wrapf(ErrChannelClosed, "write: %s", err)
	}
	return nil
}

func (ch *connChannel) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch.inputChan:
		if !ok {
			if err := ch.readErr.Load(); err != nil && err != io.EOF {
				return nil, errors.Wrapf(ErrChannelClosed, "read: %s", err)
			}
			return nil, ErrChannelClosed
		}
		return msg, nil
	case <-ch.closeSignal:
		return nil, ErrChannelClosed
	case <-timer.C:
		return nil, &TimeoutError{msg: "receive timed out"}
	}
}

func (ch *connChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.closeSignal)
		err = ch.conn.Close()
		ch.wg.Wait()
		logger.Debugf("channel %s<->%s closed", ch.LocalAddr(), ch.RemoteAddr())
	})
	return err
}

func (ch *connChannel) LocalAddr() string {
	return ch.conn.LocalAddr().String()
}

func (ch *connChannel) RemoteAddr() string {
	return ch.conn.RemoteAddr().String()
}

// memChannel is one end of an in-process channel pair. Used by tests to
// run both engine roles in a single process without sockets.
type memChannel struct {
	name        string
	peerName    string
	sendCh      chan []byte
	recvCh      chan []byte
	closeSignal chan struct{}
	closeOnce   *sync.Once
}

// NewMemChannelPair builds two connected in-memory channel ends.
// Closing either end closes the pair.
func NewMemChannelPair() (MessageChannel, MessageChannel) {
	aToB := make(chan []byte, inputChannelDepth)
	bToA := make(chan []byte, inputChannelDepth)
	closeSignal := make(chan struct{})
	once := &sync.Once{}
	a := &memChannel{name: "mem-a", peerName: "mem-b", sendCh: aToB, recvCh: bToA, closeSignal: closeSignal, closeOnce: once}
	b := &memChannel{name: "mem-b", peerName: "mem-a", sendCh: bToA, recvCh: aToB, closeSignal: closeSignal, closeOnce: once}
	return a, b
}

func (ch *memChannel) Send(msg []byte) error {
	select {
	case <-ch.closeSignal:
		return ErrChannelClosed
	default:
	}
	select {
	case ch.sendCh <- msg:
		return nil
	case <-ch.closeSignal:
		return ErrChannelClosed
	}
}

func (ch *memChannel) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch.recvCh:
		return msg, nil
	case <-ch.closeSignal:
		// drain what was already in flight before reporting closure
		select {
		case msg := <-ch.recvCh:
			return msg, nil
		default:
			return nil, ErrChannelClosed
		}
	case <-timer.C:
		return nil, &TimeoutError{msg: "receive timed out"}
	}
}

func (ch *memChannel) Close() error {
	ch.closeOnce.Do(func() {
		close(ch.closeSignal)
	})
	return nil
}

func (ch *memChannel) LocalAddr() string {
	return ch.name
}

func (ch *memChannel) RemoteAddr() string {
	return ch.peerName
}
