// Package clocksync estimates the offset between a client's local clock and
// the server's reference clock from round-trip timestamp probes.
//
// Each probe assumes the outbound and inbound legs take equal time, so the
// reference clock at the moment the reply lands is approximately
// referenceTime + roundTrip/2. Probes taken during network hiccups have
// inflated round trips and would corrupt the estimate, so a candidate is only
// accepted while its round trip stays within a bounded factor of the best
// round trip seen on this connection.
package clocksync

import (
	"sort"
	"sync"
	"time"
)

const (
	// rttTolerance rejects probes whose round trip is worse than this factor
	// times the best round trip observed so far.
	rttTolerance = 3
	// windowSize is how many accepted candidate offsets feed the published
	// estimate. The median of the window damps single lucky/unlucky samples.
	windowSize = 8
)

// Estimate is the published clock state for one connection.
type Estimate struct {
	// Offset is reference time minus local time. Adding it to the local
	// clock approximates the reference clock.
	Offset time.Duration
	// RoundTrip is the latency of the probe that produced the newest
	// accepted candidate.
	RoundTrip time.Duration
	// Samples counts accepted probes. Zero means unsynchronized.
	Samples int
}

// Estimator ingests probe timings and publishes a smoothed offset estimate.
// It is owned by a single connection but safe for concurrent use, since the
// probe loop and the drift corrector touch it from different goroutines.
type Estimator struct {
	mu      sync.Mutex
	best    time.Duration
	lastRTT time.Duration
	window  []time.Duration
	samples int
}

// NewEstimator returns an estimator with no accepted samples.
func NewEstimator() *Estimator {
	return &Estimator{window: make([]time.Duration, 0, windowSize)}
}

// AddSample feeds one completed probe: localSend and localRecv are the
// client's clock at probe departure and reply arrival, reference is the
// server clock carried in the reply. Returns whether the sample was accepted.
func (e *Estimator) AddSample(localSend, localRecv time.Time, reference time.Time) bool {
	rtt := localRecv.Sub(localSend)
	if rtt < 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.samples > 0 && rtt > e.best*rttTolerance {
		return false
	}
	if e.samples == 0 || rtt < e.best {
		e.best = rtt
	}

	candidate := reference.Add(rtt / 2).Sub(localRecv)
	if len(e.window) == windowSize {
		copy(e.window, e.window[1:])
		e.window = e.window[:windowSize-1]
	}
	e.window = append(e.window, candidate)
	e.lastRTT = rtt
	e.samples++
	return true
}

// Estimate returns the current published estimate. ok is false until at
// least one probe has been accepted; callers must treat anchor-time
// computations as unreliable until then.
func (e *Estimator) Estimate() (Estimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.samples == 0 {
		return Estimate{}, false
	}
	return Estimate{
		Offset:    median(e.window),
		RoundTrip: e.lastRTT,
		Samples:   e.samples,
	}, true
}

func median(window []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
