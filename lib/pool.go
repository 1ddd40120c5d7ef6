package lib

import (
	"fmt"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

var (
	emptySlice   []byte
	bufferLength = maxPayloadBufferSize
	Pool         *rp.RingPool
)

// InitPool creates the shared payload chunk pool. Data segment payloads
// live in pooled chunks from the moment they are carved or decoded until
// they are acknowledged or delivered.
func InitPool(capacity, payloadBufferSize int, debug bool, processTimeThresholdMs int) {
	if payloadBufferSize <= 0 || payloadBufferSize > maxPayloadBufferSize {
		payloadBufferSize = maxPayloadBufferSize
	}
	bufferLength = payloadBufferSize
	SetEmptySlice(bufferLength)

	rp.Debug = debug
	Pool = rp.NewRingPool("RDT: ", capacity, NewPayload, payloadBufferSize)
	Pool.Debug = debug
	Pool.ProcessTimeThreshold = time.Duration(processTimeThresholdMs) * time.Millisecond
}

func SetEmptySlice(length int) {
	emptySlice = make([]byte, length)
}

// Payload represents packet payload byte slice
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload creates a fresh pool element backing buffer.
func NewPayload(params ...interface{}) rp.DataInterface {
	pBufferLength := bufferLength

	if len(params) == 1 {
		if n, ok := params[0].(int); ok && n > 0 {
			pBufferLength = n
		}
	}

	if len(emptySlice) == 0 { // initialize it
		SetEmptySlice(pBufferLength)
	}

	return &Payload{
		payloadBytes: make([]byte, pBufferLength),
	}
}

// set the content of the payload
func (p *Payload) SetContent(s string) {
	p.payloadBytes = []byte(s)
	p.length = len(s)
}

// Reset resets the content of the payload
func (p *Payload) Reset() {
	copy(p.payloadBytes, emptySlice)
	p.length = 0
}

// PrintContent prints the content of the payload
func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("Payload Copy: Source byte slice(%d) is longer than bufferLength(%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("Payload Copy: Source byte slice is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}
