package mavlink

import (
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offnav/internal/geometry/vector"
)

func TestModeNames(t *testing.T) {
	for name := range px4Modes {
		t.Run(name, func(t *testing.T) {
			main, sub, err := EncodeMode(name)
			require.NoError(t, err)
			assert.Equal(t, name, DecodeMode(CustomMode(main, sub)))
		})
	}
}

func TestDecodeMode(t *testing.T) {
	assert.Equal(t, "OFFBOARD", DecodeMode(6<<16))
	assert.Equal(t, "AUTO.LOITER", DecodeMode(4<<16|3<<24))
	assert.Equal(t, "POSCTL", DecodeMode(3<<16|1<<24))
	assert.Equal(t, "CMODE(0)", DecodeMode(0))
	assert.Equal(t, "CMODE(262144)", DecodeMode(4<<16))
}

func TestEncodeMode(t *testing.T) {
	main, sub, err := EncodeMode("auto.rtl")
	require.NoError(t, err)
	assert.EqualValues(t, 4, main)
	assert.EqualValues(t, 5, sub)

	_, _, err = EncodeMode("HOVER")
	assert.Error(t, err)
}

func TestFrameConversion(t *testing.T) {
	enu := vector.NewVec3(0.5, -1, 2)
	x, y, z := ENUToNED(enu)
	assert.Equal(t, [3]float32{-1, 0.5, -2}, [3]float32{x, y, z})
	assert.Equal(t, enu, NEDToENU(x, y, z))
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want gomavlib.EndpointConf
	}{
		{"udp-server:0.0.0.0:14540", gomavlib.EndpointUDPServer{Address: "0.0.0.0:14540"}},
		{"udp-client:127.0.0.1:14580", gomavlib.EndpointUDPClient{Address: "127.0.0.1:14580"}},
		{"tcp-client:127.0.0.1:5760", gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"}},
		{"tcp-server:0.0.0.0:5760", gomavlib.EndpointTCPServer{Address: "0.0.0.0:5760"}},
		{"serial:/dev/ttyACM0:57600", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 57600}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "udp-server", "udp-server:", "serial:/dev/ttyACM0", "serial:/dev/ttyACM0:fast", "quic:1.2.3.4:1"} {
		_, err := ParseEndpoint(bad)
		assert.Error(t, err, bad)
	}
}
