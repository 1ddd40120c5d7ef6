package lib

import (
	"time"
)

// RttEstimator keeps the smoothed round-trip statistics and derives the
// retransmission timeout. It is guarded by the owning engine's lock and
// must only see samples from segments that were never retransmitted.
type RttEstimator struct {
	estimatedRtt time.Duration
	devRtt       time.Duration
	currentRto   time.Duration
	minRto       time.Duration
	maxRto       time.Duration
	hasSample    bool
	backoffCount int
}

// Smoothing weights: alpha = 1/8 for the mean, beta = 1/4 for the
// deviation.
const (
	rttAlphaInv = 8
	rttBetaInv  = 4
)

func NewRttEstimator(initialRto, minRto, maxRto time.Duration) *RttEstimator {
	return &RttEstimator{
		estimatedRtt: 500 * time.Millisecond,
		devRtt:       100 * time.Millisecond,
		currentRto:   initialRto,
		minRto:       minRto,
		maxRto:       maxRto,
	}
}

// OnSample feeds one measured round-trip time. The first sample replaces
// the seed values outright; later samples are smoothed in. A successful
// sample also recomputes the RTO from the smoothed state, which ends any
// backoff run.
func (r *RttEstimator) OnSample(sample time.Duration) {
	if sample <= 0 {
		return
	}
	if !r.hasSample {
		r.estimatedRtt = sample
		r.devRtt = sample / 2
		r.hasSample = true
	} else {
		r.estimatedRtt = ((rttAlphaInv-1)*r.estimatedRtt + sample) / rttAlphaInv
		diff := sample - r.estimatedRtt
		if diff < 0 {
			diff = -diff
		}
		r.devRtt = ((rttBetaInv-1)*r.devRtt + diff) / rttBetaInv
	}
	r.currentRto = clampDuration(r.estimatedRtt+4*r.devRtt, r.minRto, r.maxRto)
	r.backoffCount = 0
}

// OnTimeout doubles the RTO in use, capped at the ceiling. The smoothed
// estimate and deviation are left untouched: a timed-out segment will be
// retransmitted and must never produce a sample.
func (r *RttEstimator) OnTimeout() {
	r.currentRto = r.currentRto * 2
	if r.currentRto > r.maxRto {
		r.currentRto = r.maxRto
	}
	r.backoffCount++
}

// CurrentRto returns the timeout to arm the next retransmission timer
// with.
func (r *RttEstimator) CurrentRto() time.Duration {
	return r.currentRto
}

func (r *RttEstimator) EstimatedRtt() time.Duration {
	return r.estimatedRtt
}

func (r *RttEstimator) DeviationRtt() time.Duration {
	return r.devRtt
}

func (r *RttEstimator) BackoffCount() int {
	return r.backoffCount
}
