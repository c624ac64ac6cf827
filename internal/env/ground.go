package env

import "offnav/internal/geometry/vector"

// GroundContact is the warning Ground reports while the vehicle rests on
// or is pushed onto the floor.
const GroundContact = "ground-contact"

// Ground is a flat floor at height Level in the local ENU frame. The
// vehicle cannot sink below it.
type Ground struct {
	Level float64
}

// Apply clamps the next position to the floor and cancels any downward
// velocity that would carry the vehicle through it.
func (g Ground) Apply(dt float64, pos vector.Vec3, vel vector.Vec3) (vector.Vec3, vector.Vec3, string) {
	next := pos.Z + vel.Z*dt
	if next > g.Level {
		return pos, vel, ""
	}

	if pos.Z < g.Level {
		pos.Z = g.Level
	}
	if vel.Z < 0 {
		// Leave just enough to land exactly on the floor this step.
		vel.Z = 0
		if dt > 0 && pos.Z > g.Level {
			vel.Z = (g.Level - pos.Z) / dt
		}
	}
	return pos, vel, GroundContact
}

// OnGround reports whether z is within tol of the floor.
func (g Ground) OnGround(z, tol float64) bool {
	return z-g.Level <= tol
}
