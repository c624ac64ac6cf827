package env

import (
	"math"

	"offnav/internal/geometry/vector"
)

// Wind is a steady horizontal drift in m/s: Wx towards east (+X), Wy
// towards north (+Y).
type Wind struct {
	Wx float64 `json:"wx"`
	Wy float64 `json:"wy"`
}

// Apply moves the vehicle with the air mass. Its own velocity is
// untouched; the position controller has to fight the drift.
func (w Wind) Apply(dt float64, pos vector.Vec3, vel vector.Vec3) (vector.Vec3, vector.Vec3, string) {
	drift := vector.Vec3{X: w.Wx * dt, Y: w.Wy * dt}
	return pos.Add(drift), vel, ""
}

func (w Wind) Calm() bool { return w.Wx == 0 && w.Wy == 0 }

// FromSpeedAndDir builds a Wind blowing towards directionDeg, measured
// clockwise from north.
func FromSpeedAndDir(speed, directionDeg float64) Wind {
	rad := (90 - directionDeg) * math.Pi / 180
	return Wind{
		Wx: speed * math.Cos(rad),
		Wy: speed * math.Sin(rad),
	}
}
