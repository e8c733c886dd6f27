// Package drift keeps a client's audio engine aligned with the authoritative
// room timeline. It combines the clock-sync estimate with the latest session
// broadcast to compute where playback ought to be, compares that against the
// engine's actual position, and corrects: not at all inside a small band,
// by a temporary rate nudge inside a medium band, and by a hard seek beyond
// it, where a gentle nudge would take too long to converge.
package drift

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/clocksync"
	"github.com/unisonfm/unison/internal/room"
)

// EstimateSource defines what the corrector needs from the clock estimator
type EstimateSource interface {
	Estimate() (clocksync.Estimate, bool)
}

// Config holds the correction thresholds and cadence.
type Config struct {
	// SmallThreshold is the dead band: discrepancies below it are left
	// alone so playback is not audibly jittered by micro-corrections.
	SmallThreshold time.Duration
	// LargeThreshold is where gentle correction gives up: discrepancies at
	// or beyond it are fixed with a hard seek.
	LargeThreshold time.Duration
	// NudgeRate is the fractional rate adjustment used for gentle
	// correction, e.g. 0.04 plays at 1.04x / 0.96x until aligned.
	NudgeRate float64
	// TickInterval is how often the corrector re-checks while playing.
	TickInterval time.Duration
}

// DefaultConfig returns the default correction thresholds.
func DefaultConfig() Config {
	return Config{
		SmallThreshold: 80 * time.Millisecond,
		LargeThreshold: time.Second,
		NudgeRate:      0.04,
		TickInterval:   250 * time.Millisecond,
	}
}

// pendingStart is an armed scheduled start for a future anchor instant.
type pendingStart struct {
	timer  clockwork.Timer
	cancel chan struct{}
	anchor time.Time
}

// Corrector reconciles the local engine against the authoritative timeline.
// Feed it session broadcasts via OnSession and run the periodic tick loop
// with Run.
type Corrector struct {
	engine Engine
	clocks EstimateSource
	clock  clockwork.Clock
	cfg    Config

	mu          sync.Mutex
	session     room.Session
	haveSession bool
	playing     bool
	nudging     bool
	pauseSeeked bool
	pending     *pendingStart
}

// NewCorrector creates a corrector for one engine. Zero thresholds in cfg
// fall back to the defaults.
func NewCorrector(engine Engine, clocks EstimateSource, clock clockwork.Clock, cfg Config) *Corrector {
	def := DefaultConfig()
	if cfg.SmallThreshold <= 0 {
		cfg.SmallThreshold = def.SmallThreshold
	}
	if cfg.LargeThreshold <= 0 {
		cfg.LargeThreshold = def.LargeThreshold
	}
	if cfg.NudgeRate <= 0 {
		cfg.NudgeRate = def.NudgeRate
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	return &Corrector{engine: engine, clocks: clocks, clock: clock, cfg: cfg}
}

// Run drives the periodic reconciliation tick until ctx is done.
func (c *Corrector) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cancelPendingLocked()
			c.mu.Unlock()
			return
		case <-ticker.Chan():
			c.mu.Lock()
			c.applyLocked()
			c.mu.Unlock()
		}
	}
}

// OnSession ingests a session broadcast. A pending scheduled start is always
// cancelled: the newer broadcast's anchor supersedes the stale one.
func (c *Corrector) OnSession(s room.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = s
	c.haveSession = true
	c.pauseSeeked = false
	c.cancelPendingLocked()
	c.applyLocked()
}

// applyLocked reconciles the engine with the current session. Called with
// c.mu held, from broadcasts, ticks and fired start timers.
func (c *Corrector) applyLocked() {
	if !c.haveSession {
		return
	}
	s := c.session

	est, ok := c.clocks.Estimate()
	if !ok {
		// No accepted probe yet: a default offset of zero could misalign
		// playback by an unknown amount, so no seeks, nudges or scheduled
		// starts until the clock is trusted. Keep the engine quiet.
		c.haltLocked()
		return
	}

	if s.Paused {
		c.haltLocked()
		if !c.pauseSeeked {
			c.engine.SeekTo(s.AnchorPosition)
			c.pauseSeeked = true
		}
		return
	}

	refNow := c.clock.Now().Add(est.Offset)
	if s.AnchorTime.After(refNow) {
		// Scheduled start has not arrived yet.
		c.haltLocked()
		c.scheduleStartLocked(s.AnchorTime, s.AnchorTime.Sub(refNow))
		return
	}

	expected := s.PositionAt(refNow)
	if !c.playing {
		// Starting late (or first join mid-track): clamp the wait to zero
		// and begin at the implied elapsed position.
		c.engine.SeekTo(expected)
		c.engine.Play()
		c.playing = true
		return
	}
	c.reconcileLocked(expected)
}

// reconcileLocked applies the three-band correction policy.
func (c *Corrector) reconcileLocked(expected time.Duration) {
	actual := c.engine.Position()
	diff := expected - actual
	abs := diff
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs < c.cfg.SmallThreshold:
		if c.nudging {
			c.engine.SetRate(1.0)
			c.nudging = false
		}

	case abs < c.cfg.LargeThreshold:
		rate := 1.0 + c.cfg.NudgeRate
		if diff < 0 {
			rate = 1.0 - c.cfg.NudgeRate
		}
		c.engine.SetRate(rate)
		c.nudging = true
		log.Debug().
			Int64("drift_ms", diff.Milliseconds()).
			Float64("rate", rate).
			Msg("nudging playback rate")

	default:
		c.engine.SeekTo(expected)
		if c.nudging {
			c.engine.SetRate(1.0)
			c.nudging = false
		}
		log.Debug().
			Int64("drift_ms", diff.Milliseconds()).
			Msg("hard reseek")
	}
}

// haltLocked silences the engine and restores nominal rate.
func (c *Corrector) haltLocked() {
	if c.playing {
		c.engine.Pause()
		c.playing = false
	}
	if c.nudging {
		c.engine.SetRate(1.0)
		c.nudging = false
	}
}

// scheduleStartLocked arms a one-shot timer for a future anchor. If a timer
// for this exact anchor is already pending it is left in place, so the
// periodic tick does not pile up duplicates.
func (c *Corrector) scheduleStartLocked(anchor time.Time, wait time.Duration) {
	if c.pending != nil && c.pending.anchor.Equal(anchor) {
		return
	}
	c.cancelPendingLocked()

	p := &pendingStart{
		timer:  c.clock.NewTimer(wait),
		cancel: make(chan struct{}),
		anchor: anchor,
	}
	c.pending = p
	go c.waitForStart(p)

	log.Debug().
		Time("anchor", anchor).
		Dur("wait", wait).
		Msg("scheduled playback start")
}

func (c *Corrector) waitForStart(p *pendingStart) {
	select {
	case <-p.timer.Chan():
	case <-p.cancel:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		// Superseded between fire and lock acquisition.
		return
	}
	c.pending = nil

	s := c.session
	if s.Paused || !s.AnchorTime.Equal(p.anchor) {
		return
	}
	c.engine.SeekTo(s.AnchorPosition)
	if c.nudging {
		c.engine.SetRate(1.0)
		c.nudging = false
	}
	c.engine.Play()
	c.playing = true
}

// cancelPendingLocked stops and drains the pending start timer, following
// the time.Timer.Stop contract, and signals its waiter to exit.
func (c *Corrector) cancelPendingLocked() {
	if c.pending == nil {
		return
	}
	if !c.pending.timer.Stop() {
		select {
		case <-c.pending.timer.Chan():
		default:
		}
	}
	close(c.pending.cancel)
	c.pending = nil
}
