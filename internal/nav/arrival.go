// Package nav decides when the vehicle has arrived at its target and
// when it is back at the home position.
package nav

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"offnav/internal/geometry/vector"
	"offnav/internal/log"
)

// DefaultTolerance is the per-axis arrival tolerance in pose units.
const DefaultTolerance = 0.1

// Reached reports whether current is within DefaultTolerance of target on
// every axis.
func Reached(target, current vector.Vec3) bool {
	return ReachedWithin(target, current, DefaultTolerance)
}

// ReachedWithin is Reached with an explicit tolerance. It is symmetric in
// its two positions.
func ReachedWithin(target, current vector.Vec3, tol float64) bool {
	return target.Within(current, tol)
}

// Tracker owns the current target and the reached/home flags derived from
// it. SetTarget is called by a single writer (the flight plan driver);
// Observe is called by the transport on every pose update.
type Tracker struct {
	tol  float64
	home vector.Vec3
	lg   *log.Logger

	mu      sync.Mutex
	target  vector.Vec3
	reached bool
	arrived chan struct{}

	atHome atomic.Bool
}

func NewTracker(tol float64, home, initial vector.Vec3, lg *log.Logger) *Tracker {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &Tracker{
		tol:     tol,
		home:    home,
		lg:      lg,
		target:  initial,
		arrived: make(chan struct{}),
	}
}

// SetTarget replaces the target and clears the reached flag before
// returning, so no arrival at the previous target can be observed for the
// new one. The returned channel is closed when the new target is reached.
func (t *Tracker) SetTarget(p vector.Vec3) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.target = p
	t.reached = false
	t.arrived = make(chan struct{})
	return t.arrived
}

func (t *Tracker) Target() vector.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

func (t *Tracker) Reached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reached
}

// AtHome reports whether a pose within tolerance of home has been seen.
// Once set it stays set.
func (t *Tracker) AtHome() bool { return t.atHome.Load() }

func (t *Tracker) Home() vector.Vec3 { return t.home }

func (t *Tracker) Tolerance() float64 { return t.tol }

// Observe evaluates a fresh pose against home and the current target.
func (t *Tracker) Observe(pose vector.Vec3) {
	if ReachedWithin(t.home, pose, t.tol) && !t.atHome.Swap(true) {
		t.lg.Info("home position reached", slog.Any("pose", pose))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lg.Debug("arrival check", slog.Any("pose", pose), slog.Any("target", t.target),
		slog.Any("delta", t.target.Sub(pose)))
	if !t.reached && ReachedWithin(t.target, pose, t.tol) {
		t.reached = true
		close(t.arrived)
		t.lg.Info("target reached", slog.Any("target", t.target), slog.Any("pose", pose))
	}
}
