// Package config loads the offnav JSON configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"offnav/internal/env"
	"offnav/internal/geometry/vector"
	"offnav/internal/log"
	"offnav/internal/mavlink"
	"offnav/internal/mission"
	"offnav/internal/nav"
	"offnav/internal/offboard"
	"offnav/internal/sim"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Link kinds.
const (
	LinkMavlink = "mavlink"
	LinkSim     = "sim"
)

// MinRateHz is the slowest setpoint rate PX4 accepts in offboard mode.
// MaxRateHz bounds the control loop period away from zero.
const (
	MinRateHz = 2
	MaxRateHz = 1000
)

// Duration is a time.Duration that reads "5s"-style strings or a number
// of nanoseconds from JSON.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or nanoseconds: %s", b)
	}
	*d = Duration(n)
	return nil
}

// SequencerConfig controls warmup and the mode/arming requests.
type SequencerConfig struct {
	WarmupTicks     int         `json:"warmup_ticks"`
	RequestCooldown Duration    `json:"request_cooldown"`
	DisarmCooldown  Duration    `json:"disarm_cooldown"`
	RPCTimeout      Duration    `json:"rpc_timeout"`
	OffboardMode    string      `json:"offboard_mode"`
	Liftoff         vector.Vec3 `json:"liftoff"`
}

// NavConfig controls arrival detection.
type NavConfig struct {
	Tolerance float64     `json:"tolerance"`
	Home      vector.Vec3 `json:"home"`
}

type TelemetryConfig struct {
	StaleAfter Duration `json:"stale_after"`
}

// LinkConfig selects the flight controller connection.
type LinkConfig struct {
	Kind             string   `json:"kind"`
	Endpoint         string   `json:"endpoint"`
	SystemID         int      `json:"system_id"`
	HeartbeatTimeout Duration `json:"heartbeat_timeout"`
}

// SimConfig tunes the simulated vehicle used when link.kind is "sim".
type SimConfig struct {
	TickHz          float64     `json:"tick_hz"`
	StateHz         float64     `json:"state_hz"`
	PoseHz          float64     `json:"pose_hz"`
	OffboardTimeout Duration    `json:"offboard_timeout"`
	RPCLatency      Duration    `json:"rpc_latency"`
	MaxSpeed        float64     `json:"max_speed"`
	MaxAccel        float64     `json:"max_accel"`
	Gain            float64     `json:"gain"`
	PoseNoise       float64     `json:"pose_noise"`
	Seed            uint64      `json:"seed"`
	Start           vector.Vec3 `json:"start"`
	GroundLevel     float64     `json:"ground_level"`
	WindSpeed       float64     `json:"wind_speed"`
	WindDirDeg      float64     `json:"wind_dir_deg"`
}

type APIConfig struct {
	// Addr is the status server listen address; empty disables it.
	Addr string `json:"addr"`
}

type LogConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	Console   bool   `json:"console"`
	MaxSizeMB int    `json:"max_size_mb"`
}

// AppConfig aggregates all configuration sections.
type AppConfig struct {
	RateHz    float64         `json:"rate_hz"`
	Sequencer SequencerConfig `json:"sequencer"`
	Nav       NavConfig       `json:"nav"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Plan      mission.Plan    `json:"plan"`
	Link      LinkConfig      `json:"link"`
	Sim       SimConfig       `json:"sim"`
	API       APIConfig       `json:"api"`
	Log       LogConfig       `json:"log"`
}

// Default returns the built-in configuration: 30 Hz, 100 warmup ticks,
// 5 s request cooldown, home at (3,0,0) and the looping three-waypoint
// plan, over MAVLink to a local PX4 SITL.
func Default() AppConfig {
	return AppConfig{
		RateHz: 30,
		Sequencer: SequencerConfig{
			WarmupTicks:     100,
			RequestCooldown: Duration(5 * time.Second),
			DisarmCooldown:  0,
			RPCTimeout:      Duration(2 * time.Second),
			OffboardMode:    "OFFBOARD",
			Liftoff:         vector.NewVec3(0, 0, 1),
		},
		Nav: NavConfig{
			Tolerance: nav.DefaultTolerance,
			Home:      vector.NewVec3(3, 0, 0),
		},
		Telemetry: TelemetryConfig{StaleAfter: Duration(3 * time.Second)},
		Plan:      mission.DefaultPlan(),
		Link: LinkConfig{
			Kind:             LinkMavlink,
			Endpoint:         "udp-server:0.0.0.0:14540",
			SystemID:         mavlink.DefaultSystemID,
			HeartbeatTimeout: Duration(mavlink.DefaultHeartbeatTimeout),
		},
		Sim: SimConfig{
			TickHz:          50,
			StateHz:         5,
			PoseHz:          30,
			OffboardTimeout: Duration(500 * time.Millisecond),
			MaxSpeed:        1,
			MaxAccel:        2,
			Gain:            1.5,
			PoseNoise:       0.01,
			Seed:            1,
		},
		API: APIConfig{Addr: "127.0.0.1:8080"},
		Log: LogConfig{Level: "info", Console: true, MaxSizeMB: 32},
	}
}

// Load reads the JSON file at path over Default. Fields missing from the
// file keep their default values. The result is validated.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every problem it finds, wrapped in ErrInvalid.
func (c AppConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case c.RateHz < MinRateHz:
		add("rate_hz %.1f is below the %d Hz offboard minimum", c.RateHz, MinRateHz)
	case c.RateHz > MaxRateHz:
		add("rate_hz %.1f is above the %d Hz maximum", c.RateHz, MaxRateHz)
	}
	if c.Sequencer.WarmupTicks <= 0 {
		add("sequencer.warmup_ticks must be positive")
	}
	if c.Sequencer.RequestCooldown < 0 || c.Sequencer.DisarmCooldown < 0 {
		add("sequencer cooldowns must not be negative")
	}
	if c.Sequencer.RPCTimeout <= 0 {
		add("sequencer.rpc_timeout must be positive")
	}
	if c.Nav.Tolerance <= 0 {
		add("nav.tolerance must be positive")
	}
	if c.Telemetry.StaleAfter < 0 {
		add("telemetry.stale_after must not be negative")
	}
	if err := c.Plan.Validate(); err != nil {
		add("plan: %v", err)
	}
	switch c.Link.Kind {
	case LinkMavlink:
		if _, err := mavlink.ParseEndpoint(c.Link.Endpoint); err != nil {
			add("link.endpoint: %v", err)
		}
		if _, _, err := mavlink.EncodeMode(c.Sequencer.OffboardMode); err != nil {
			add("sequencer.offboard_mode: %v", err)
		}
		if c.Link.SystemID < 1 || c.Link.SystemID > 255 {
			add("link.system_id %d out of range 1-255", c.Link.SystemID)
		}
	case LinkSim:
	default:
		add("link.kind %q: want %q or %q", c.Link.Kind, LinkMavlink, LinkSim)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (c AppConfig) OffboardConfig() offboard.Config {
	return offboard.Config{
		RateHz:          c.RateHz,
		WarmupTicks:     c.Sequencer.WarmupTicks,
		Liftoff:         c.Sequencer.Liftoff,
		RequestCooldown: c.Sequencer.RequestCooldown.D(),
		DisarmCooldown:  c.Sequencer.DisarmCooldown.D(),
		RPCTimeout:      c.Sequencer.RPCTimeout.D(),
		OffboardMode:    c.Sequencer.OffboardMode,
		StaleAfter:      c.Telemetry.StaleAfter.D(),
	}
}

func (c AppConfig) MavlinkConfig() mavlink.Config {
	return mavlink.Config{
		Endpoint:         c.Link.Endpoint,
		SystemID:         byte(c.Link.SystemID),
		HeartbeatTimeout: c.Link.HeartbeatTimeout.D(),
	}
}

func (c AppConfig) SimulatorConfig() sim.Config {
	s := c.Sim
	cfg := sim.Config{
		TickHz:          s.TickHz,
		StateHz:         s.StateHz,
		PoseHz:          s.PoseHz,
		OffboardTimeout: s.OffboardTimeout.D(),
		RPCLatency:      s.RPCLatency.D(),
		MaxSpeed:        s.MaxSpeed,
		MaxAccel:        s.MaxAccel,
		Gain:            s.Gain,
		PoseNoise:       s.PoseNoise,
		Seed:            s.Seed,
		Start:           s.Start,
		Ground:          env.Ground{Level: s.GroundLevel},
	}
	if s.WindSpeed != 0 {
		cfg.Environment = env.FromSpeedAndDir(s.WindSpeed, s.WindDirDeg)
	}
	return cfg
}

func (c AppConfig) LogOptions() log.Options {
	return log.Options{
		Level:     c.Log.Level,
		File:      c.Log.File,
		Console:   c.Log.Console,
		MaxSizeMB: c.Log.MaxSizeMB,
	}
}
