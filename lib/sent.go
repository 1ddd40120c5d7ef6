package lib

import (
	"time"

	"github.com/google/btree"
)

// sentPacketInfo records one in-flight data segment: the packet itself,
// when it last went out, how many bytes it covers and how often it was
// retransmitted.
type sentPacketInfo struct {
	packet      *Packet
	sendTime    time.Time
	size        int
	resendCount int
}

func (s *sentPacketInfo) seq() int { return s.packet.SeqNum }
func (s *sentPacketInfo) end() int { return s.packet.SeqNum + s.size }

// SentPackets is the in-flight segment table, ordered by sequence
// number so acknowledgement processing can walk covered records oldest
// first. It carries no lock of its own: the owning engine serializes
// all access through the connection lock.
type SentPackets struct {
	tree  *btree.BTreeG[*sentPacketInfo]
	bytes int
}

func newSentPackets() *SentPackets {
	return &SentPackets{
		tree: btree.NewG(2, func(a, b *sentPacketInfo) bool {
			return a.packet.SeqNum < b.packet.SeqNum
		}),
	}
}

func sentProbe(seq int) *sentPacketInfo {
	return &sentPacketInfo{packet: &Packet{SeqNum: seq}}
}

// Add records a freshly carved segment.
func (s *SentPackets) Add(p *Packet, size int) *sentPacketInfo {
	info := &sentPacketInfo{packet: p, sendTime: time.Now(), size: size}
	s.tree.ReplaceOrInsert(info)
	s.bytes += size
	return info
}

func (s *SentPackets) Get(seq int) (*sentPacketInfo, bool) {
	return s.tree.Get(sentProbe(seq))
}

// Remove drops the record for seq and returns it.
func (s *SentPackets) Remove(seq int) (*sentPacketInfo, bool) {
	info, ok := s.tree.Delete(sentProbe(seq))
	if ok {
		s.bytes -= info.size
	}
	return info, ok
}

// Oldest returns the record with the lowest sequence number.
func (s *SentPackets) Oldest() (*sentPacketInfo, bool) {
	return s.tree.Min()
}

// CoveredByAck collects, in sequence order, every record whose byte
// range ends at or before the cumulative ack number.
func (s *SentPackets) CoveredByAck(ackNum int) []*sentPacketInfo {
	var covered []*sentPacketInfo
	s.tree.Ascend(func(info *sentPacketInfo) bool {
		if info.end() <= ackNum {
			covered = append(covered, info)
			return true
		}
		return false
	})
	return covered
}

// CoveredBySack collects every record whose byte range lies fully
// inside the half-open range, in sequence order.
func (s *SentPackets) CoveredBySack(block SackBlock) []*sentPacketInfo {
	var covered []*sentPacketInfo
	s.tree.AscendGreaterOrEqual(sentProbe(block.Start), func(info *sentPacketInfo) bool {
		if info.end() > block.End {
			return false
		}
		covered = append(covered, info)
		return true
	})
	return covered
}

// All returns every tracked record in sequence order.
func (s *SentPackets) All() []*sentPacketInfo {
	out := make([]*sentPacketInfo, 0, s.tree.Len())
	s.tree.Ascend(func(info *sentPacketInfo) bool {
		out = append(out, info)
		return true
	})
	return out
}

func (s *SentPackets) Len() int {
	return s.tree.Len()
}

// Bytes is how many payload bytes the table currently tracks.
func (s *SentPackets) Bytes() int {
	return s.bytes
}
