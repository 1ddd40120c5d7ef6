package lib

import (
	"testing"
	"time"
)

func newTestEstimator() *RttEstimator {
	return NewRttEstimator(1000*time.Millisecond, 100*time.Millisecond, 2000*time.Millisecond)
}

func TestFirstSampleReplacesSeeds(t *testing.T) {
	r := newTestEstimator()
	if r.EstimatedRtt() != 500*time.Millisecond || r.DeviationRtt() != 100*time.Millisecond {
		t.Fatalf("Unexpected seeds: est=%s dev=%s", r.EstimatedRtt(), r.DeviationRtt())
	}
	if r.CurrentRto() != 1000*time.Millisecond {
		t.Fatalf("Expected the configured initial RTO, but got %s", r.CurrentRto())
	}

	r.OnSample(200 * time.Millisecond)
	if r.EstimatedRtt() != 200*time.Millisecond {
		t.Errorf("Expected the first sample to replace the estimate, but got %s", r.EstimatedRtt())
	}
	if r.DeviationRtt() != 100*time.Millisecond {
		t.Errorf("Expected deviation of half the first sample, but got %s", r.DeviationRtt())
	}
	if r.CurrentRto() != 600*time.Millisecond {
		t.Errorf("Expected RTO est+4*dev = 600ms, but got %s", r.CurrentRto())
	}
}

func TestSmoothingAfterFirstSample(t *testing.T) {
	r := newTestEstimator()
	r.OnSample(200 * time.Millisecond)
	r.OnSample(200 * time.Millisecond)

	// est = (7*200 + 200)/8 = 200ms, dev = (3*100 + 0)/4 = 75ms
	if r.EstimatedRtt() != 200*time.Millisecond {
		t.Errorf("Expected estimate 200ms, but got %s", r.EstimatedRtt())
	}
	if r.DeviationRtt() != 75*time.Millisecond {
		t.Errorf("Expected deviation 75ms, but got %s", r.DeviationRtt())
	}
	if r.CurrentRto() != 500*time.Millisecond {
		t.Errorf("Expected RTO 500ms, but got %s", r.CurrentRto())
	}
}

func TestSmoothingUsesUpdatedEstimateForDeviation(t *testing.T) {
	r := newTestEstimator()
	r.OnSample(100 * time.Millisecond)
	r.OnSample(300 * time.Millisecond)

	// est = (7*100 + 300)/8 = 125ms, then dev = (3*50 + |300-125|)/4 = 81.25ms
	if r.EstimatedRtt() != 125*time.Millisecond {
		t.Errorf("Expected estimate 125ms, but got %s", r.EstimatedRtt())
	}
	expectedDev := (3*50*time.Millisecond + 175*time.Millisecond) / 4
	if r.DeviationRtt() != expectedDev {
		t.Errorf("Expected deviation %s, but got %s", expectedDev, r.DeviationRtt())
	}
}

func TestRtoClamping(t *testing.T) {
	r := newTestEstimator()
	r.OnSample(10 * time.Millisecond)
	if r.CurrentRto() != 100*time.Millisecond {
		t.Errorf("Expected the RTO floor of 100ms, but got %s", r.CurrentRto())
	}

	r = newTestEstimator()
	r.OnSample(3 * time.Second)
	if r.CurrentRto() != 2000*time.Millisecond {
		t.Errorf("Expected the RTO ceiling of 2s, but got %s", r.CurrentRto())
	}
}

func TestTimeoutBackoffDoublesAndCaps(t *testing.T) {
	r := newTestEstimator()
	r.OnTimeout()
	if r.CurrentRto() != 2000*time.Millisecond {
		t.Errorf("Expected RTO doubled to 2s, but got %s", r.CurrentRto())
	}
	r.OnTimeout()
	if r.CurrentRto() != 2000*time.Millisecond {
		t.Errorf("Expected RTO capped at 2s, but got %s", r.CurrentRto())
	}
	if r.BackoffCount() != 2 {
		t.Errorf("Expected backoff count 2, but got %d", r.BackoffCount())
	}
	if r.EstimatedRtt() != 500*time.Millisecond || r.DeviationRtt() != 100*time.Millisecond {
		t.Error("A timeout must not touch the smoothed estimates")
	}
}

func TestSampleEndsBackoffRun(t *testing.T) {
	r := newTestEstimator()
	r.OnTimeout()
	r.OnTimeout()
	r.OnSample(100 * time.Millisecond)
	if r.BackoffCount() != 0 {
		t.Errorf("Expected a sample to reset the backoff count, but got %d", r.BackoffCount())
	}
	if r.CurrentRto() != 300*time.Millisecond {
		t.Errorf("Expected the RTO recomputed to 300ms, but got %s", r.CurrentRto())
	}
}

func TestNonPositiveSamplesIgnored(t *testing.T) {
	r := newTestEstimator()
	r.OnSample(0)
	r.OnSample(-50 * time.Millisecond)
	if r.EstimatedRtt() != 500*time.Millisecond || r.CurrentRto() != 1000*time.Millisecond {
		t.Errorf("Expected non-positive samples to be ignored, est=%s rto=%s", r.EstimatedRtt(), r.CurrentRto())
	}
}
