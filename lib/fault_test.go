package lib

import (
	"testing"
)

func TestNoFaultLeavesEverythingAlone(t *testing.T) {
	var policy NoFault
	for seq := 1; seq < 1000; seq += 100 {
		if policy.DropSegment(seq, 0) || policy.CorruptSegment(seq, 0) {
			t.Fatalf("NoFault acted on seq=%d", seq)
		}
	}
}

func TestScriptedFaultDropsExactCounts(t *testing.T) {
	policy := NewScriptedFault(map[int]int{201: 2}, nil)

	if policy.DropSegment(101, 0) {
		t.Error("Expected seq=101 to pass")
	}
	if !policy.DropSegment(201, 0) {
		t.Error("Expected the first transmission of seq=201 to drop")
	}
	if !policy.DropSegment(201, 1) {
		t.Error("Expected the second transmission of seq=201 to drop")
	}
	if policy.DropSegment(201, 2) {
		t.Error("Expected the third transmission of seq=201 to pass")
	}
}

func TestScriptedFaultCorruptsExactCounts(t *testing.T) {
	policy := NewScriptedFault(nil, map[int]int{1: 1})
	if !policy.CorruptSegment(1, 0) {
		t.Error("Expected the first transmission of seq=1 to corrupt")
	}
	if policy.CorruptSegment(1, 1) {
		t.Error("Expected the second transmission of seq=1 to pass")
	}
	if policy.DropSegment(1, 0) {
		t.Error("Corruption entries must not cause drops")
	}
}

func TestRandomFaultWarmupNeverDrops(t *testing.T) {
	policy := NewRandomFault(1.0, 0, 5, 42)
	for i := 0; i < 5; i++ {
		if policy.DropSegment(1+i*100, 0) {
			t.Fatalf("Transmission %d dropped during warmup", i+1)
		}
	}
	if !policy.DropSegment(501, 0) {
		t.Error("Expected a certain drop once warmup ended")
	}
}

func TestRandomFaultRates(t *testing.T) {
	never := NewRandomFault(0, 0, 0, 7)
	for i := 0; i < 100; i++ {
		if never.DropSegment(i, 0) || never.CorruptSegment(i, 0) {
			t.Fatal("A zero-rate policy must never act")
		}
	}

	always := NewRandomFault(1.0, 1.0, 0, 7)
	if !always.DropSegment(1, 0) {
		t.Error("Expected a rate-1.0 policy to drop")
	}
	if !always.CorruptSegment(1, 0) {
		t.Error("Expected a rate-1.0 policy to corrupt")
	}
}

func TestSetRatesTakesEffect(t *testing.T) {
	policy := NewRandomFault(0, 0, 0, 7)
	if policy.DropSegment(1, 0) {
		t.Fatal("Expected no drops before retuning")
	}
	policy.SetRates(1.0, 1.0)
	if !policy.DropSegment(101, 0) {
		t.Error("Expected drops after retuning to rate 1.0")
	}
	if !policy.CorruptSegment(101, 0) {
		t.Error("Expected corruption after retuning to rate 1.0")
	}
}
