package clocksync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultProbeInterval is how often a connection probes the reference clock.
const DefaultProbeInterval = 2 * time.Second

// SendFunc transmits one probe carrying the local send timestamp in unix
// milliseconds. The reply must echo the timestamp back unchanged.
type SendFunc func(clientSendMs int64) error

// Runner fires probes on a fixed interval for the life of a connection and
// routes replies into an Estimator. A probe that never gets a reply simply
// produces no sample; there is no retry or error state.
type Runner struct {
	est      *Estimator
	send     SendFunc
	clock    clockwork.Clock
	interval time.Duration
}

// NewRunner creates a probe runner. interval <= 0 selects the default.
func NewRunner(est *Estimator, send SendFunc, clock clockwork.Clock, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Runner{est: est, send: send, clock: clock, interval: interval}
}

// Run probes immediately and then on every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.probe()

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.probe()
		}
	}
}

func (r *Runner) probe() {
	sendMs := r.clock.Now().UnixMilli()
	if err := r.send(sendMs); err != nil {
		log.Debug().Err(err).Msg("clock probe send failed")
	}
}

// HandleReply feeds a probe reply into the estimator. clientSendMs is the
// echoed local send timestamp, serverTimeMs the reference clock from the
// reply; the receive time is taken from the runner's clock now, so call this
// promptly on reply arrival.
func (r *Runner) HandleReply(clientSendMs, serverTimeMs int64) {
	localRecv := r.clock.Now()
	localSend := time.UnixMilli(clientSendMs)
	reference := time.UnixMilli(serverTimeMs)

	if accepted := r.est.AddSample(localSend, localRecv, reference); !accepted {
		log.Debug().
			Int64("rtt_ms", localRecv.Sub(localSend).Milliseconds()).
			Msg("clock probe rejected as outlier")
	}
}
