package lib

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// FaultPolicy decides, per outgoing data segment, whether the engine
// simulates a loss or a corruption on the wire. The send path consults
// it for every data transmission, including retransmissions; control
// packets (handshake, acks, FIN) are never subjected to it.
type FaultPolicy interface {
	// DropSegment reports whether this transmission is silently dropped.
	// The segment is still recorded and timed by the sender.
	DropSegment(seqNum, resendCount int) bool
	// CorruptSegment reports whether this transmission goes out with a
	// skewed integrity code instead of being dropped.
	CorruptSegment(seqNum, resendCount int) bool
}

// NoFault transmits everything untouched.
type NoFault struct{}

func (NoFault) DropSegment(seqNum, resendCount int) bool    { return false }
func (NoFault) CorruptSegment(seqNum, resendCount int) bool { return false }

// RandomFault drops and corrupts with configured probabilities. The
// first warmup transmissions are never dropped so a transfer's opening
// exchange always gets through. Rates may be retuned while transfers
// are running.
type RandomFault struct {
	lossRate       *atomic.Float64
	corruptionRate *atomic.Float64
	warmup         int
	sent           atomic.Int64
	mu             sync.Mutex
	rng            *rand.Rand
}

// NewRandomFault builds a random policy. A zero seed seeds from the
// clock.
func NewRandomFault(lossRate, corruptionRate float64, warmup int, seed int64) *RandomFault {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomFault{
		lossRate:       atomic.NewFloat64(lossRate),
		corruptionRate: atomic.NewFloat64(corruptionRate),
		warmup:         warmup,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// SetRates retunes the probabilities, e.g. from a config reload.
func (f *RandomFault) SetRates(lossRate, corruptionRate float64) {
	f.lossRate.Store(lossRate)
	f.corruptionRate.Store(corruptionRate)
}

func (f *RandomFault) DropSegment(seqNum, resendCount int) bool {
	if int(f.sent.Inc()) <= f.warmup {
		return false
	}
	return f.roll() < f.lossRate.Load()
}

func (f *RandomFault) CorruptSegment(seqNum, resendCount int) bool {
	rate := f.corruptionRate.Load()
	if rate <= 0 {
		return false
	}
	return f.roll() < rate
}

func (f *RandomFault) roll() float64 {
	f.mu.Lock()
	v := f.rng.Float64()
	f.mu.Unlock()
	return v
}

// ScriptedFault drops and corrupts exactly the transmissions named in
// its tables, keyed by sequence number with a per-sequence count of
// transmissions to affect. Deterministic replacement for RandomFault in
// tests.
type ScriptedFault struct {
	mu       sync.Mutex
	drops    map[int]int
	corrupts map[int]int
}

func NewScriptedFault(drops, corrupts map[int]int) *ScriptedFault {
	if drops == nil {
		drops = make(map[int]int)
	}
	if corrupts == nil {
		corrupts = make(map[int]int)
	}
	return &ScriptedFault{drops: drops, corrupts: corrupts}
}

func (f *ScriptedFault) DropSegment(seqNum, resendCount int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drops[seqNum] > 0 {
		f.drops[seqNum]--
		return true
	}
	return false
}

func (f *ScriptedFault) CorruptSegment(seqNum, resendCount int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.corrupts[seqNum] > 0 {
		f.corrupts[seqNum]--
		return true
	}
	return false
}
