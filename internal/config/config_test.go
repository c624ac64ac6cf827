package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offnav/internal/env"
	"offnav/internal/geometry/vector"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offnav.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	oc := cfg.OffboardConfig()
	assert.Equal(t, 30.0, oc.RateHz)
	assert.Equal(t, 100, oc.WarmupTicks)
	assert.Equal(t, 5*time.Second, oc.RequestCooldown)
	assert.Zero(t, oc.DisarmCooldown)
	assert.Equal(t, vector.NewVec3(0, 0, 1), oc.Liftoff)
	assert.Equal(t, vector.NewVec3(3, 0, 0), cfg.Nav.Home)
	assert.Len(t, cfg.Plan.Waypoints, 3)
	assert.True(t, cfg.Plan.Loop)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"rate_hz": 50,
		"sequencer": {"request_cooldown": "2s", "rpc_timeout": 1500000000},
		"nav": {"home": {"x": 1, "y": 2, "z": 0}},
		"plan": {"loop": false, "waypoints": [{"name": "up", "z": 1}]},
		"link": {"kind": "sim"},
		"sim": {"wind_speed": 0.2, "wind_dir_deg": 90, "ground_level": -0.5}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.RateHz)
	assert.Equal(t, 2*time.Second, cfg.Sequencer.RequestCooldown.D())
	assert.Equal(t, 1500*time.Millisecond, cfg.Sequencer.RPCTimeout.D())
	assert.Equal(t, 100, cfg.Sequencer.WarmupTicks, "untouched fields keep defaults")
	assert.Equal(t, "OFFBOARD", cfg.Sequencer.OffboardMode)
	assert.Equal(t, vector.NewVec3(1, 2, 0), cfg.Nav.Home)
	require.Len(t, cfg.Plan.Waypoints, 1)
	assert.False(t, cfg.Plan.Loop)

	sc := cfg.SimulatorConfig()
	assert.Equal(t, env.Ground{Level: -0.5}, sc.Ground)
	wind, ok := sc.Environment.(env.Wind)
	require.True(t, ok)
	assert.InDelta(t, 0.2, wind.Wx, 1e-9)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, `{"rate_hz": `))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"sequencer": {"request_cooldown": "soon"}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"rate_hz": 1}`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.RateHz = 1
	cfg.Nav.Tolerance = 0
	cfg.Plan.Waypoints = nil
	cfg.Link.Kind = "carrier-pigeon"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"rate_hz", "nav.tolerance", "plan", "link.kind"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRateBounds(t *testing.T) {
	for _, tc := range []struct {
		hz float64
		ok bool
	}{
		{1.9, false},
		{2, true},
		{MaxRateHz, true},
		{MaxRateHz + 1, false},
		{2e9, false},
	} {
		cfg := Default()
		cfg.RateHz = tc.hz
		err := cfg.Validate()
		if tc.ok {
			assert.NoError(t, err, "%g Hz", tc.hz)
			assert.Positive(t, cfg.OffboardConfig().Period(), "%g Hz", tc.hz)
		} else {
			assert.ErrorIs(t, err, ErrInvalid, "%g Hz", tc.hz)
		}
	}
}

func TestValidateMavlinkSettings(t *testing.T) {
	cfg := Default()
	cfg.Link.Endpoint = "pigeon:home"
	cfg.Sequencer.OffboardMode = "HOVER"
	cfg.Link.SystemID = 0

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "link.endpoint")
	assert.Contains(t, err.Error(), "offboard_mode")
	assert.Contains(t, err.Error(), "system_id")

	cfg.Link.Kind = LinkSim
	assert.NoError(t, cfg.Validate(), "sim link ignores MAVLink settings")
}

func TestDurationJSON(t *testing.T) {
	b, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &d))
	assert.Equal(t, 250*time.Millisecond, d.D())
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestMavlinkConfig(t *testing.T) {
	mc := Default().MavlinkConfig()
	assert.Equal(t, "udp-server:0.0.0.0:14540", mc.Endpoint)
	assert.EqualValues(t, 255, mc.SystemID)
	assert.Equal(t, 3*time.Second, mc.HeartbeatTimeout)
}
