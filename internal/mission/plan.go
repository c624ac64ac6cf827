// Package mission feeds a flight plan to the arrival tracker one waypoint
// at a time.
package mission

import (
	"errors"
	"fmt"
	"math"

	"offnav/internal/geometry/vector"
)

// Waypoint is a named ENU target position. A Pass waypoint is set as the
// target but not waited for.
type Waypoint struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Pass bool    `json:"pass,omitempty"`
}

func (w Waypoint) Pos() vector.Vec3 { return vector.NewVec3(w.X, w.Y, w.Z) }

func (w Waypoint) String() string {
	if w.Name == "" {
		return w.Pos().String()
	}
	return fmt.Sprintf("%s %s", w.Name, w.Pos())
}

// Plan is an ordered list of waypoints. With Loop set the driver starts
// over after the last one; otherwise it holds the last target.
type Plan struct {
	Loop      bool       `json:"loop"`
	Waypoints []Waypoint `json:"waypoints"`
}

// DefaultPlan climbs, moves right and descends, forever.
func DefaultPlan() Plan {
	return Plan{
		Loop: true,
		Waypoints: []Waypoint{
			{Name: "climb", X: 0, Y: 0, Z: 0.5},
			{Name: "right", X: 0.5, Y: 0, Z: 0.5},
			{Name: "descend", X: 0.5, Y: 0, Z: 0},
		},
	}
}

func (p Plan) Validate() error {
	if len(p.Waypoints) == 0 {
		return errors.New("plan has no waypoints")
	}
	waits := false
	for i, w := range p.Waypoints {
		waits = waits || !w.Pass
		for _, v := range []float64{w.X, w.Y, w.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("waypoint %d (%s): non-finite coordinate", i, w.Name)
			}
		}
	}
	if p.Loop && !waits {
		return errors.New("looping plan must wait for at least one waypoint")
	}
	return nil
}

// First returns the first waypoint's position, or the zero vector for an
// empty plan.
func (p Plan) First() vector.Vec3 {
	if len(p.Waypoints) == 0 {
		return vector.Vec3{}
	}
	return p.Waypoints[0].Pos()
}
