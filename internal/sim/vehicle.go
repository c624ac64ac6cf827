// Package sim is a stand-in for a PX4 autopilot running offboard control.
// A Vehicle is an actor: one goroutine owns the flight state and serves
// setpoints, mode and arming requests over channels, and streams
// telemetry to a telemetry.Sink.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"offnav/internal/env"
	"offnav/internal/geometry/vector"
	"offnav/internal/log"
	"offnav/internal/offboard"
	"offnav/internal/telemetry"
)

type commandKind int

const (
	cmdMode commandKind = iota
	cmdArm
)

type command struct {
	kind  commandKind
	mode  string
	arm   bool
	reply chan error
}

func (c command) String() string {
	if c.kind == cmdMode {
		return "set-mode " + c.mode
	}
	if c.arm {
		return "arm"
	}
	return "disarm"
}

type stateReq struct {
	reply chan State
}

type Vehicle struct {
	cfg Config
	env env.Environment
	lg  *log.Logger

	// Actor channels
	setpointCh chan vector.Vec3
	cmdCh      chan command
	stateReqCh chan stateReq

	dropped atomic.Uint64
}

var _ offboard.Link = (*Vehicle)(nil)

func New(cfg Config, lg *log.Logger) *Vehicle {
	cfg.setDefaults()

	effects := []env.Environment{}
	if cfg.Environment != nil {
		effects = append(effects, cfg.Environment)
	}
	effects = append(effects, cfg.Ground)

	return &Vehicle{
		cfg:        cfg,
		env:        &env.Chain{Effects: effects},
		lg:         lg,
		setpointCh: make(chan vector.Vec3, 64),
		cmdCh:      make(chan command, 8),
		stateReqCh: make(chan stateReq, 8),
	}
}

// PublishSetpoint hands a position setpoint to the vehicle. It never
// blocks; setpoints are dropped when the actor falls behind.
func (v *Vehicle) PublishSetpoint(p vector.Vec3) {
	select {
	case v.setpointCh <- p:
	default:
		v.dropped.Add(1)
	}
}

func (v *Vehicle) SetMode(ctx context.Context, mode string) (bool, error) {
	return v.call(ctx, command{kind: cmdMode, mode: mode})
}

func (v *Vehicle) SetArmed(ctx context.Context, arm bool) (bool, error) {
	return v.call(ctx, command{kind: cmdArm, arm: arm})
}

// Dropped returns the number of setpoints lost to a full queue.
func (v *Vehicle) Dropped() uint64 { return v.dropped.Load() }

func (v *Vehicle) call(ctx context.Context, c command) (bool, error) {
	if v.cfg.RPCLatency > 0 {
		t := time.NewTimer(v.cfg.RPCLatency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return false, ctxErr(ctx)
		}
	}

	c.reply = make(chan error, 1)
	select {
	case v.cmdCh <- c:
	case <-ctx.Done():
		return false, ctxErr(ctx)
	}

	select {
	case err := <-c.reply:
		switch {
		case errors.Is(err, ErrRejected):
			v.lg.Debug("request refused", slog.String("request", c.String()), slog.Any("reason", err))
			return false, nil
		case err != nil:
			return false, err
		}
		return true, nil
	case <-ctx.Done():
		return false, ctxErr(ctx)
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("sim: %w", offboard.ErrRPCTimeout)
	}
	return ctx.Err()
}

func (v *Vehicle) GetState(ctx context.Context) (State, error) {
	req := stateReq{reply: make(chan State, 1)}
	select {
	case v.stateReqCh <- req:
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case st := <-req.reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Run owns the flight state until ctx is done.
func (v *Vehicle) Run(ctx context.Context, sink telemetry.Sink) error {
	cfg := v.cfg

	// Actor-owned state
	now := time.Now()
	mode := ModeManual
	armed := false
	pos := cfg.Start
	vel := vector.Vec3{}
	hold := pos
	setpoint := pos
	var lastSetpoint time.Time
	warning := ""

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	streamAlive := func(t time.Time) bool {
		return !lastSetpoint.IsZero() && t.Sub(lastSetpoint) <= cfg.OffboardTimeout
	}

	snapshot := func(ts time.Time) State {
		st := State{
			Mode:     mode,
			Armed:    armed,
			Position: pos,
			Velocity: vel,
			Setpoint: setpoint,
			OnGround: cfg.Ground.OnGround(pos.Z, cfg.LandedTolerance),
			Warning:  warning,
			TS:       ts,
		}
		if !lastSetpoint.IsZero() {
			st.StreamAge = ts.Sub(lastSetpoint)
		}
		return st
	}

	setMode := func(m, reason string) {
		if m == mode {
			return
		}
		v.lg.Info("mode change", slog.String("from", mode), slog.String("to", m), slog.String("reason", reason))
		mode = m
		if m != ModeOffboard {
			hold = pos
		}
	}

	handle := func(c command, t time.Time) error {
		switch c.kind {
		case cmdMode:
			if !knownModes[c.mode] {
				return fmt.Errorf("%w: unknown mode %q", ErrRejected, c.mode)
			}
			if c.mode == ModeOffboard && !streamAlive(t) {
				return fmt.Errorf("%w: no setpoint stream", ErrRejected)
			}
			setMode(c.mode, "requested")
			return nil

		case cmdArm:
			if c.arm == armed {
				return nil
			}
			if c.arm {
				if mode == ModeOffboard && !streamAlive(t) {
					return fmt.Errorf("%w: no setpoint stream", ErrRejected)
				}
				armed = true
				hold = pos
				v.lg.Info("armed", slog.String("mode", mode))
				return nil
			}
			if !cfg.Ground.OnGround(pos.Z, cfg.LandedTolerance) {
				return fmt.Errorf("%w: airborne at %.2f m", ErrRejected, pos.Z-cfg.Ground.Level)
			}
			armed = false
			vel = vector.Vec3{}
			v.lg.Info("disarmed", slog.Any("position", pos))
			return nil
		}
		return fmt.Errorf("%w: unknown command", ErrRejected)
	}

	approach := func(cur, des, amax, dt float64) float64 {
		diff := des - cur
		maxStep := amax * dt
		if diff > maxStep {
			return cur + maxStep
		}
		if diff < -maxStep {
			return cur - maxStep
		}
		return des
	}

	approachVel := func(cur, des vector.Vec3, dt float64) vector.Vec3 {
		return vector.Vec3{
			X: approach(cur.X, des.X, cfg.MaxAccel, dt),
			Y: approach(cur.Y, des.Y, cfg.MaxAccel, dt),
			Z: approach(cur.Z, des.Z, cfg.MaxAccel, dt),
		}
	}

	step := func(t time.Time) {
		dt := t.Sub(now).Seconds()
		if dt <= 0 {
			dt = 1.0 / cfg.TickHz
		}
		now = t

		if mode == ModeOffboard && !streamAlive(t) {
			v.lg.Warn("setpoint stream lost", slog.Duration("age", t.Sub(lastSetpoint)))
			setMode(ModeLoiter, "offboard stream timeout")
		}

		if !armed && cfg.Ground.OnGround(pos.Z, 0) {
			vel = vector.Vec3{}
			warning = env.GroundContact
			return
		}

		desired := vector.Vec3{}
		if armed {
			target := hold
			switch mode {
			case ModeOffboard:
				target = setpoint
			case ModeLand:
				target.Z = cfg.Ground.Level
			}
			desired = target.Sub(pos).Mul(cfg.Gain)
			if n := desired.Norm(); n > cfg.MaxSpeed {
				desired = desired.Mul(cfg.MaxSpeed / n)
			}
		}

		vel = approachVel(vel, desired, dt)
		pos, vel, warning = v.env.Apply(dt, pos, vel)
		pos = pos.Add(vel.Mul(dt))
	}

	noisy := func(p vector.Vec3) vector.Vec3 {
		if cfg.PoseNoise <= 0 {
			return p
		}
		return p.Add(vector.NewVec3(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()).Mul(cfg.PoseNoise))
	}

	physics := time.NewTicker(hz(cfg.TickHz))
	defer physics.Stop()
	stateTick := time.NewTicker(hz(cfg.StateHz))
	defer stateTick.Stop()
	poseTick := time.NewTicker(hz(cfg.PoseHz))
	defer poseTick.Stop()

	v.lg.Info("simulated vehicle started", slog.Any("position", pos), slog.String("mode", mode))

	for {
		select {
		case <-ctx.Done():
			return nil

		case p := <-v.setpointCh:
			setpoint = p
			lastSetpoint = time.Now()

		case c := <-v.cmdCh:
			c.reply <- handle(c, time.Now())

		case req := <-v.stateReqCh:
			req.reply <- snapshot(time.Now())

		case t := <-physics.C:
			step(t)

		case <-stateTick.C:
			sink.UpdateState(telemetry.VehicleState{Connected: true, Armed: armed, Mode: mode})

		case <-poseTick.C:
			sink.UpdatePose(noisy(pos))
			sink.UpdateVelocity(vel)
		}
	}
}
