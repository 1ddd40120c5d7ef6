package lib

import (
	"testing"
)

func addSent(t *testing.T, s *SentPackets, seq, size int) *sentPacketInfo {
	t.Helper()
	payload := make([]byte, size)
	p := NewPacket(seq, 0, DATAFlag, 65536, payload)
	if p == nil {
		t.Fatalf("could not build packet seq=%d", seq)
	}
	return s.Add(p, size)
}

func drainSent(s *SentPackets) {
	for _, info := range s.All() {
		s.Remove(info.seq())
		info.packet.ReturnChunk()
	}
}

func TestCoveredByAck(t *testing.T) {
	s := newSentPackets()
	defer drainSent(s)
	addSent(t, s, 1, 100)
	addSent(t, s, 101, 100)
	addSent(t, s, 201, 100)

	tests := []struct {
		ackNum   int
		expected []int
	}{
		{1, nil},
		{100, nil},
		{101, []int{1}},
		{201, []int{1, 101}},
		{301, []int{1, 101, 201}},
		{250, []int{1, 101}},
	}
	for _, tt := range tests {
		covered := s.CoveredByAck(tt.ackNum)
		var seqs []int
		for _, info := range covered {
			seqs = append(seqs, info.seq())
		}
		if len(seqs) != len(tt.expected) {
			t.Errorf("For ack %d, expected %v, but got %v", tt.ackNum, tt.expected, seqs)
			continue
		}
		for i := range seqs {
			if seqs[i] != tt.expected[i] {
				t.Errorf("For ack %d, expected %v, but got %v", tt.ackNum, tt.expected, seqs)
				break
			}
		}
	}
}

func TestCoveredBySack(t *testing.T) {
	s := newSentPackets()
	defer drainSent(s)
	addSent(t, s, 1, 100)
	addSent(t, s, 101, 100)
	addSent(t, s, 201, 100)
	addSent(t, s, 301, 100)

	tests := []struct {
		block    SackBlock
		expected []int
	}{
		{SackBlock{Start: 101, End: 301}, []int{101, 201}},
		{SackBlock{Start: 101, End: 201}, []int{101}},
		{SackBlock{Start: 150, End: 301}, []int{201}},
		{SackBlock{Start: 101, End: 250}, []int{101}},
		{SackBlock{Start: 401, End: 501}, nil},
	}
	for _, tt := range tests {
		covered := s.CoveredBySack(tt.block)
		var seqs []int
		for _, info := range covered {
			seqs = append(seqs, info.seq())
		}
		if len(seqs) != len(tt.expected) {
			t.Errorf("For block [%d,%d), expected %v, but got %v", tt.block.Start, tt.block.End, tt.expected, seqs)
			continue
		}
		for i := range seqs {
			if seqs[i] != tt.expected[i] {
				t.Errorf("For block [%d,%d), expected %v, but got %v", tt.block.Start, tt.block.End, tt.expected, seqs)
				break
			}
		}
	}
}

func TestByteAccounting(t *testing.T) {
	s := newSentPackets()
	defer drainSent(s)
	addSent(t, s, 1, 100)
	addSent(t, s, 101, 60)
	if s.Bytes() != 160 {
		t.Errorf("Expected 160 bytes in flight, but got %d", s.Bytes())
	}

	info, ok := s.Remove(1)
	if !ok {
		t.Fatal("Expected the record for seq=1")
	}
	info.packet.ReturnChunk()
	if s.Bytes() != 60 {
		t.Errorf("Expected 60 bytes in flight after removal, but got %d", s.Bytes())
	}
	if s.Len() != 1 {
		t.Errorf("Expected one record, but got %d", s.Len())
	}
	if _, ok := s.Remove(1); ok {
		t.Error("Removing an absent record must report false")
	}
}

func TestOldestRecord(t *testing.T) {
	s := newSentPackets()
	defer drainSent(s)
	if _, ok := s.Oldest(); ok {
		t.Error("An empty table must not report an oldest record")
	}
	addSent(t, s, 201, 100)
	addSent(t, s, 1, 100)
	addSent(t, s, 101, 100)
	info, ok := s.Oldest()
	if !ok || info.seq() != 1 {
		t.Errorf("Expected the oldest record at seq=1, but got %v, %t", info, ok)
	}
}
