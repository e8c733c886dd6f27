package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SimEngine simulates an audio engine by advancing a position counter on the
// wall clock. The headless listener uses it to exercise a room end to end
// without real audio output; soak tests read its position to measure drift.
type SimEngine struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pos     time.Duration
	rate    float64
	playing bool
	last    time.Time
}

// NewSimEngine creates a stopped engine at position zero.
func NewSimEngine(clock clockwork.Clock) *SimEngine {
	return &SimEngine{clock: clock, rate: 1.0}
}

// advanceLocked folds elapsed wall time into the position counter.
func (e *SimEngine) advanceLocked() {
	now := e.clock.Now()
	if e.playing {
		e.pos += time.Duration(float64(now.Sub(e.last)) * e.rate)
	}
	e.last = now
}

func (e *SimEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	return e.pos
}

func (e *SimEngine) SeekTo(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	e.pos = pos
	log.Info().Int64("position_ms", pos.Milliseconds()).Msg("engine seek")
}

func (e *SimEngine) SetRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	e.rate = rate
	log.Info().Float64("rate", rate).Msg("engine rate")
}

func (e *SimEngine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	if !e.playing {
		e.playing = true
		log.Info().Int64("position_ms", e.pos.Milliseconds()).Msg("engine play")
	}
}

func (e *SimEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	if e.playing {
		e.playing = false
		log.Info().Int64("position_ms", e.pos.Milliseconds()).Msg("engine pause")
	}
}
