package drift

import "time"

// Engine is the local audio engine the corrector steers. Implementations
// must be cheap and non-blocking; calls are made while the corrector holds
// its internal lock.
type Engine interface {
	// Position reports the engine's current playback position.
	Position() time.Duration
	// SeekTo jumps playback to pos.
	SeekTo(pos time.Duration)
	// SetRate adjusts the playback rate; 1.0 is nominal.
	SetRate(rate float64)
	// Play starts or resumes playback at the current position.
	Play()
	// Pause stops playback, holding the current position.
	Pause()
}
