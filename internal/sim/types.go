package sim

import (
	"errors"
	"time"

	"offnav/internal/env"
	"offnav/internal/geometry/vector"
)

// ErrRejected is the reason attached to a mode or arming request the
// simulated autopilot refuses.
var ErrRejected = errors.New("request rejected")

// Modes the simulated autopilot knows. Names follow PX4.
const (
	ModeManual   = "MANUAL"
	ModePosctl   = "POSCTL"
	ModeAltctl   = "ALTCTL"
	ModeOffboard = "OFFBOARD"
	ModeLoiter   = "AUTO.LOITER"
	ModeLand     = "AUTO.LAND"
)

var knownModes = map[string]bool{
	ModeManual: true, ModePosctl: true, ModeAltctl: true,
	ModeOffboard: true, ModeLoiter: true, ModeLand: true,
}

// State is a snapshot of the simulated vehicle.
type State struct {
	Mode     string      `json:"mode"`
	Armed    bool        `json:"armed"`
	Position vector.Vec3 `json:"position"`
	Velocity vector.Vec3 `json:"velocity"`
	Setpoint vector.Vec3 `json:"setpoint"`
	// StreamAge is the time since the last setpoint, zero if none yet.
	StreamAge time.Duration `json:"streamAge"`
	OnGround  bool          `json:"onGround"`
	Warning   string        `json:"warning,omitempty"`
	TS        time.Time     `json:"ts"`
}

type Config struct {
	// TickHz is the physics rate.
	TickHz float64
	// StateHz and PoseHz are the telemetry rates.
	StateHz float64
	PoseHz  float64

	// OffboardTimeout is how stale the setpoint stream may get before
	// OFFBOARD is refused or abandoned.
	OffboardTimeout time.Duration
	// RPCLatency delays every mode and arming reply.
	RPCLatency time.Duration

	MaxSpeed float64 // m/s
	MaxAccel float64 // m/s^2
	Gain     float64 // 1/s, position error to velocity
	// LandedTolerance is how close to the floor the vehicle must be to
	// disarm.
	LandedTolerance float64
	// PoseNoise is the standard deviation of the reported position.
	PoseNoise float64
	Seed      uint64

	Start       vector.Vec3
	Ground      env.Ground
	Environment env.Environment
}

func (c *Config) setDefaults() {
	if c.TickHz <= 0 {
		c.TickHz = 50
	}
	if c.StateHz <= 0 {
		c.StateHz = 5
	}
	if c.PoseHz <= 0 {
		c.PoseHz = 30
	}
	if c.OffboardTimeout <= 0 {
		c.OffboardTimeout = 500 * time.Millisecond
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = 1
	}
	if c.MaxAccel <= 0 {
		c.MaxAccel = 2
	}
	if c.Gain <= 0 {
		c.Gain = 1.5
	}
	if c.LandedTolerance <= 0 {
		c.LandedTolerance = 0.15
	}
}

func hz(f float64) time.Duration {
	return time.Duration(float64(time.Second) / f)
}
