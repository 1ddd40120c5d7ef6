package lib

import (
	"testing"
)

func bufPacket(t *testing.T, seq, size int) *Packet {
	t.Helper()
	p := NewPacket(seq, 0, DATAFlag, 65536, make([]byte, size))
	if p == nil {
		t.Fatalf("could not build packet seq=%d", seq)
	}
	return p
}

func drainBuf(rb *ReceiveBuffer) {
	for _, p := range rb.All() {
		rb.Take(p.SeqNum)
		p.ReturnChunk()
	}
}

func TestInsertHonorsCapacityAndDuplicates(t *testing.T) {
	rb := newReceiveBuffer(2)
	defer drainBuf(rb)

	if !rb.Insert(bufPacket(t, 101, 10)) {
		t.Error("Expected the first insert to succeed")
	}
	dup := bufPacket(t, 101, 10)
	if rb.Insert(dup) {
		t.Error("Expected a duplicate offset to be rejected")
	}
	dup.ReturnChunk()
	if !rb.Insert(bufPacket(t, 111, 10)) {
		t.Error("Expected the second insert to succeed")
	}
	overflow := bufPacket(t, 121, 10)
	if rb.Insert(overflow) {
		t.Error("Expected an insert beyond capacity to be rejected")
	}
	overflow.ReturnChunk()
	if rb.Len() != 2 {
		t.Errorf("Expected 2 buffered packets, but got %d", rb.Len())
	}
}

func TestTakeInOrder(t *testing.T) {
	rb := newReceiveBuffer(10)
	defer drainBuf(rb)
	rb.Insert(bufPacket(t, 21, 10))
	rb.Insert(bufPacket(t, 11, 10))

	if _, ok := rb.Take(1); ok {
		t.Error("Expected no packet at an unbuffered offset")
	}
	p, ok := rb.Take(11)
	if !ok || p.SeqNum != 11 {
		t.Fatalf("Expected the packet at seq=11, but got %v, %t", p, ok)
	}
	p.ReturnChunk()
	if rb.Has(11) {
		t.Error("Taken offset must leave the buffer")
	}
	if !rb.Has(21) {
		t.Error("Other offsets must stay buffered")
	}
}

func TestSackSpansMergeContiguousRanges(t *testing.T) {
	rb := newReceiveBuffer(10)
	defer drainBuf(rb)
	rb.Insert(bufPacket(t, 201, 100))
	rb.Insert(bufPacket(t, 101, 100))
	rb.Insert(bufPacket(t, 401, 100))

	spans := rb.SackSpans()
	expected := []SackBlock{{Start: 101, End: 301}, {Start: 401, End: 501}}
	if len(spans) != len(expected) {
		t.Fatalf("Expected spans %v, but got %v", expected, spans)
	}
	for i := range spans {
		if spans[i] != expected[i] {
			t.Fatalf("Expected spans %v, but got %v", expected, spans)
		}
	}
}

func TestSackSpansEmptyBuffer(t *testing.T) {
	rb := newReceiveBuffer(10)
	if spans := rb.SackSpans(); spans != nil {
		t.Errorf("Expected no spans from an empty buffer, but got %v", spans)
	}
}

func TestAvailableWindowFloor(t *testing.T) {
	rb := newReceiveBuffer(10)
	defer drainBuf(rb)

	tests := []struct {
		buffered   int
		windowSize int
		mss        int
		expected   int
	}{
		{0, 4096, 1024, 4096},
		{2, 4096, 1024, 2048},
		{4, 4096, 1024, 1024},
		{6, 4096, 1024, 1024},
	}
	seq := 1
	inserted := 0
	for _, tt := range tests {
		for inserted < tt.buffered {
			rb.Insert(bufPacket(t, seq, 10))
			seq += 10
			inserted++
		}
		if got := rb.AvailableWindow(tt.windowSize, tt.mss); got != tt.expected {
			t.Errorf("For %d buffered, expected window %d, but got %d", tt.buffered, tt.expected, got)
		}
	}
}
