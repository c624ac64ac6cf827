// Package offboard establishes offboard control of the vehicle and keeps
// it: a Sequencer negotiates mode and arming over the Link and a Publisher
// streams position setpoints at a fixed rate.
package offboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"offnav/internal/geometry/vector"
	"offnav/internal/log"
	"offnav/internal/nav"
	"offnav/internal/telemetry"
)

// Config holds the sequencing parameters.
type Config struct {
	// RateHz drives both the Sequencer and the Publisher. The flight
	// controller requires setpoints faster than 2 Hz.
	RateHz float64
	// WarmupTicks is the number of ticks spent streaming Liftoff before the
	// first mode request.
	WarmupTicks int
	Liftoff     vector.Vec3
	// RequestCooldown is the minimum spacing of set-mode and of arm requests.
	RequestCooldown time.Duration
	// DisarmCooldown is the minimum spacing of disarm requests; zero retries
	// on every tick.
	DisarmCooldown time.Duration
	RPCTimeout     time.Duration
	OffboardMode   string
	// StaleAfter bounds the age of the last vehicle state before the
	// Sequencer stops making decisions on it. Zero disables the age check.
	StaleAfter time.Duration
}

func (c Config) Period() time.Duration {
	if c.RateHz <= 0 {
		return time.Second / 30
	}
	if d := time.Duration(float64(time.Second) / c.RateHz); d > 0 {
		return d
	}
	return time.Nanosecond
}

// Sequencer is the mode/arming state machine. Step is not safe for
// concurrent use; Run calls it from a single goroutine.
type Sequencer struct {
	cfg     Config
	link    Link
	cache   *telemetry.Cache
	tracker *nav.Tracker
	pub     *Publisher
	lg      *log.Logger
	now     func() time.Time

	// OnPhase, if set before Run, is called after every transition.
	OnPhase func(from, to Phase)

	phase atomic.Int32
	ticks int

	lastModeRequest   time.Time
	lastArmRequest    time.Time
	lastDisarmRequest time.Time
	streamingSince    time.Time
	wasStale          bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewSequencer(cfg Config, link Link, cache *telemetry.Cache, tracker *nav.Tracker,
	pub *Publisher, lg *log.Logger) *Sequencer {
	if cfg.OffboardMode == "" {
		cfg.OffboardMode = "OFFBOARD"
	}
	s := &Sequencer{
		cfg:     cfg,
		link:    link,
		cache:   cache,
		tracker: tracker,
		pub:     pub,
		lg:      lg,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	s.phase.Store(int32(PhaseWarmup))
	return s
}

func (s *Sequencer) Phase() Phase { return Phase(s.phase.Load()) }

// Done is closed once the vehicle has been disarmed and the sequencer has
// terminated.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

// Setpoint is what the Publisher should stream right now: the liftoff
// setpoint during warmup and the tracked target afterwards.
func (s *Sequencer) Setpoint() vector.Vec3 {
	if s.Phase() == PhaseWarmup {
		return s.cfg.Liftoff
	}
	return s.tracker.Target()
}

func (s *Sequencer) Run(ctx context.Context) error {
	tick := time.NewTicker(s.cfg.Period())
	defer tick.Stop()

	s.lg.Info("sequencer started", slog.Duration("period", s.cfg.Period()),
		slog.Int("warmup_ticks", s.cfg.WarmupTicks))

	for {
		select {
		case <-ctx.Done():
			s.lg.Info("sequencer cancelled", slog.String("phase", s.Phase().String()))
			return nil
		case <-s.done:
			return nil
		case <-tick.C:
			s.Step(ctx, s.now())
		}
	}
}

// Step runs one tick of the state machine at time now.
func (s *Sequencer) Step(ctx context.Context, now time.Time) {
	switch s.Phase() {
	case PhaseWarmup:
		s.ticks++
		if s.ticks >= s.cfg.WarmupTicks {
			s.transition(PhaseNegotiating, "warmup complete", slog.Int("ticks", s.ticks))
		}

	case PhaseNegotiating:
		if s.stale(now) {
			return
		}
		s.negotiate(ctx, now)

	case PhaseStreaming:
		if s.stale(now) {
			return
		}
		s.stream(ctx, now)

	case PhaseReturning:
		if s.stale(now) {
			return
		}
		s.disarm(ctx, now)

	case PhaseTerminated:
	}
}

func (s *Sequencer) negotiate(ctx context.Context, now time.Time) {
	st := s.cache.State()

	if st.Mode != s.cfg.OffboardMode {
		if !cooledDown(s.lastModeRequest, now, s.cfg.RequestCooldown) {
			return
		}
		s.lastModeRequest = now
		if s.call(ctx, "set-mode", func(ctx context.Context) (bool, error) {
			return s.link.SetMode(ctx, s.cfg.OffboardMode)
		}) {
			s.lg.Info("offboard enabled")
		}
		return
	}

	if st.Armed {
		s.enterStreaming(now, "vehicle reports armed")
		return
	}

	if !cooledDown(s.lastArmRequest, now, s.cfg.RequestCooldown) {
		return
	}
	s.lastArmRequest = now
	if s.call(ctx, "arm", func(ctx context.Context) (bool, error) {
		return s.link.SetArmed(ctx, true)
	}) {
		s.lg.Info("vehicle armed")
		s.enterStreaming(now, "arm accepted")
	}
}

func (s *Sequencer) enterStreaming(now time.Time, reason string) {
	s.streamingSince = now
	s.transition(PhaseStreaming, reason)
}

func (s *Sequencer) stream(ctx context.Context, now time.Time) {
	st := s.cache.State()

	// Only telemetry that arrived after we started streaming can say the
	// controller dropped out of offboard or disarmed.
	if st.ReceivedAt.After(s.streamingSince) && (st.Mode != s.cfg.OffboardMode || !st.Armed) {
		s.transition(PhaseNegotiating, "offboard control lost",
			slog.String("mode", st.Mode), slog.Bool("armed", st.Armed))
		return
	}

	if st.Armed && s.tracker.AtHome() {
		s.transition(PhaseReturning, "home position reached while armed")
		s.disarm(ctx, now)
	}
}

func (s *Sequencer) disarm(ctx context.Context, now time.Time) {
	if !cooledDown(s.lastDisarmRequest, now, s.cfg.DisarmCooldown) {
		return
	}
	s.lastDisarmRequest = now
	if s.call(ctx, "disarm", func(ctx context.Context) (bool, error) {
		return s.link.SetArmed(ctx, false)
	}) {
		s.lg.Info("vehicle disarmed")
		s.terminate()
	}
}

func (s *Sequencer) terminate() {
	s.pub.Stop()
	s.transition(PhaseTerminated, "disarm accepted")
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Sequencer) stale(now time.Time) bool {
	stale := s.cache.Stale(now, s.cfg.StaleAfter)
	if stale != s.wasStale {
		if stale {
			st := s.cache.State()
			s.lg.Warn("telemetry stale, suspending decisions",
				slog.String("phase", s.Phase().String()),
				slog.Bool("connected", st.Connected),
				slog.Time("last_state", st.ReceivedAt))
		} else {
			s.lg.Info("telemetry fresh, resuming", slog.String("phase", s.Phase().String()))
		}
		s.wasStale = stale
	}
	return stale
}

func (s *Sequencer) call(ctx context.Context, name string, fn func(context.Context) (bool, error)) bool {
	if s.cfg.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RPCTimeout)
		defer cancel()
	}

	start := time.Now()
	ok, err := fn(ctx)
	switch {
	case err != nil:
		s.lg.Warn("rpc failed", slog.String("rpc", name), slog.Any("error", err),
			slog.Duration("elapsed", time.Since(start)))
		return false
	case !ok:
		s.lg.Warn("rpc rejected", slog.String("rpc", name))
		return false
	}
	return true
}

func (s *Sequencer) transition(to Phase, reason string, args ...any) {
	from := Phase(s.phase.Swap(int32(to)))
	args = append([]any{slog.String("from", from.String()), slog.String("to", to.String()),
		slog.String("reason", reason)}, args...)
	s.lg.Info("phase change", args...)
	if s.OnPhase != nil {
		s.OnPhase(from, to)
	}
}

func cooledDown(last, now time.Time, cooldown time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= cooldown
}
