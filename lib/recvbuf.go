package lib

import (
	"github.com/google/btree"
)

// ReceiveBuffer holds data segments that arrived ahead of the expected
// offset, ordered by sequence number. Capacity is counted in packets;
// arrivals beyond it are dropped by the caller, which keeps the
// advertised window honest. Guarded by the owning engine, not by the
// buffer itself.
type ReceiveBuffer struct {
	tree     *btree.BTreeG[*Packet]
	capacity int
}

func newReceiveBuffer(capacity int) *ReceiveBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReceiveBuffer{
		tree: btree.NewG(2, func(a, b *Packet) bool {
			return a.SeqNum < b.SeqNum
		}),
		capacity: capacity,
	}
}

// Insert stores an out-of-order packet. It reports false when the
// buffer is full or the offset is already buffered; the caller then
// drops the packet.
func (rb *ReceiveBuffer) Insert(p *Packet) bool {
	if rb.tree.Len() >= rb.capacity {
		return false
	}
	if rb.tree.Has(p) {
		return false
	}
	rb.tree.ReplaceOrInsert(p)
	return true
}

// Take removes and returns the packet buffered at seq.
func (rb *ReceiveBuffer) Take(seq int) (*Packet, bool) {
	return rb.tree.Delete(&Packet{SeqNum: seq})
}

func (rb *ReceiveBuffer) Has(seq int) bool {
	return rb.tree.Has(&Packet{SeqNum: seq})
}

func (rb *ReceiveBuffer) Len() int {
	return rb.tree.Len()
}

// All returns the buffered packets in sequence order without removing them.
func (rb *ReceiveBuffer) All() []*Packet {
	out := make([]*Packet, 0, rb.tree.Len())
	rb.tree.Ascend(func(p *Packet) bool {
		out = append(out, p)
		return true
	})
	return out
}

// SackSpans walks the buffered packets in order and merges adjacent
// byte ranges into the half-open spans reported with duplicate acks.
func (rb *ReceiveBuffer) SackSpans() []SackBlock {
	var spans []SackBlock
	start, end := -1, -1
	rb.tree.Ascend(func(p *Packet) bool {
		if start < 0 {
			start = p.SeqNum
			end = p.SeqNum + len(p.Payload)
			return true
		}
		if p.SeqNum == end {
			end += len(p.Payload)
			return true
		}
		spans = append(spans, SackBlock{Start: start, End: end})
		start = p.SeqNum
		end = p.SeqNum + len(p.Payload)
		return true
	})
	if start >= 0 {
		spans = append(spans, SackBlock{Start: start, End: end})
	}
	return spans
}

// AvailableWindow is the receive window to advertise: the configured
// window less the bytes the buffer may already hold, never below one
// MSS so the sender cannot be starved into a zero window.
func (rb *ReceiveBuffer) AvailableWindow(windowSize, mss int) int {
	return maxInt(windowSize-rb.tree.Len()*mss, mss)
}
