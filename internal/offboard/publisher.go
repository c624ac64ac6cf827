package offboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"offnav/internal/geometry/vector"
	"offnav/internal/log"
)

// Publisher streams a setpoint to the Link at a fixed rate until stopped.
// It runs on its own ticker so blocking RPCs elsewhere do not interrupt
// the stream the flight controller watches.
type Publisher struct {
	link   Link
	period time.Duration
	source func() vector.Vec3
	lg     *log.Logger

	mu      sync.Mutex
	stopped bool
	count   atomic.Uint64
}

func NewPublisher(link Link, period time.Duration, source func() vector.Vec3, lg *log.Logger) *Publisher {
	return &Publisher{
		link:   link,
		period: period,
		source: source,
		lg:     lg,
	}
}

// Tick publishes the current setpoint once. It returns false, without
// publishing, after Stop.
func (p *Publisher) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	sp := p.source()
	p.link.PublishSetpoint(sp)
	p.count.Add(1)
	p.lg.Debug("published", slog.Any("setpoint", sp))
	return true
}

// Stop ends the stream. No publish starts after Stop returns.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *Publisher) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Published returns the number of setpoints handed to the Link.
func (p *Publisher) Published() uint64 { return p.count.Load() }

func (p *Publisher) Run(ctx context.Context) error {
	tick := time.NewTicker(p.period)
	defer tick.Stop()

	for {
		if !p.Tick() {
			p.lg.Info("setpoint stream stopped", slog.Uint64("published", p.Published()))
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
