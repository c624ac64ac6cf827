package mission

import (
	"context"
	"log/slog"
	"sync/atomic"

	"offnav/internal/geometry/vector"
	"offnav/internal/log"
)

// Targets accepts a new target and returns a channel closed on arrival.
// nav.Tracker implements it.
type Targets interface {
	SetTarget(p vector.Vec3) <-chan struct{}
}

// Driver walks a Plan. It is the only writer of the target.
type Driver struct {
	plan    Plan
	targets Targets
	stop    <-chan struct{}
	lg      *log.Logger

	laps    atomic.Int64
	arrived atomic.Int64
}

// NewDriver returns a driver that pushes plan into targets until stop is
// closed.
func NewDriver(plan Plan, targets Targets, stop <-chan struct{}, lg *log.Logger) *Driver {
	return &Driver{plan: plan, targets: targets, stop: stop, lg: lg}
}

// Laps is the number of completed passes through the plan.
func (d *Driver) Laps() int64 { return d.laps.Load() }

// Arrivals is the number of waypoints reached so far.
func (d *Driver) Arrivals() int64 { return d.arrived.Load() }

// Run sets each waypoint in turn and waits for arrival. It returns nil
// when stop is closed or ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.plan.Validate(); err != nil {
		return err
	}
	d.lg.Info("flight plan started", slog.Int("waypoints", len(d.plan.Waypoints)),
		slog.Bool("loop", d.plan.Loop))

	for {
		for i, wp := range d.plan.Waypoints {
			if d.stopped(ctx) {
				return nil
			}

			d.lg.Info("navigating", slog.Int("index", i), slog.String("waypoint", wp.String()))
			arrived := d.targets.SetTarget(wp.Pos())
			if wp.Pass {
				continue
			}

			select {
			case <-arrived:
				d.arrived.Add(1)
				d.lg.Info("waypoint reached", slog.Int("index", i), slog.String("name", wp.Name))
			case <-d.stop:
				d.lg.Info("flight plan stopped", slog.String("waypoint", wp.Name))
				return nil
			case <-ctx.Done():
				return nil
			}
		}

		lap := d.laps.Add(1)
		if !d.plan.Loop {
			d.lg.Info("flight plan complete, holding last waypoint")
			select {
			case <-d.stop:
			case <-ctx.Done():
			}
			return nil
		}
		d.lg.Debug("lap complete", slog.Int64("lap", lap))
	}
}

func (d *Driver) stopped(ctx context.Context) bool {
	select {
	case <-d.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
