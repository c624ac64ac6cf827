// Package env models the surroundings of the simulated vehicle. Effects
// are applied once per physics step, after the vehicle's own velocity has
// been updated and before position is integrated.
package env

import (
	"offnav/internal/geometry/vector"
)

// Environment adjusts position and velocity for one step of dt seconds.
// A non-empty string reports a condition worth surfacing, such as ground
// contact.
type Environment interface {
	Apply(dt float64, pos vector.Vec3, vel vector.Vec3) (vector.Vec3, vector.Vec3, string)
}

// Chain applies its effects in order, feeding each one's output into the
// next. The last non-empty warning wins.
type Chain struct {
	Effects []Environment
}

func (c *Chain) Apply(dt float64, pos vector.Vec3, vel vector.Vec3) (vector.Vec3, vector.Vec3, string) {
	var warning string
	for _, effect := range c.Effects {
		newPos, newVel, w := effect.Apply(dt, pos, vel)
		if w != "" {
			warning = w
		}
		pos, vel = newPos, newVel
	}
	return pos, vel, warning
}

// NoOp leaves the vehicle alone.
var NoOp Environment = noOpEnv{}

type noOpEnv struct{}

func (noOpEnv) Apply(dt float64, pos, vel vector.Vec3) (vector.Vec3, vector.Vec3, string) {
	return pos, vel, ""
}
