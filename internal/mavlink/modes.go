package mavlink

import (
	"fmt"
	"strconv"
	"strings"
)

// PX4 packs its flight mode into the heartbeat custom_mode field: the main
// mode in bits 16-23 and the sub mode in bits 24-31.
const (
	px4MainManual     = 1
	px4MainAltctl     = 2
	px4MainPosctl     = 3
	px4MainAuto       = 4
	px4MainAcro       = 5
	px4MainOffboard   = 6
	px4MainStabilized = 7
	px4MainRattitude  = 8
)

type px4Mode struct{ main, sub uint8 }

var px4Modes = map[string]px4Mode{
	"MANUAL":             {px4MainManual, 0},
	"ALTCTL":             {px4MainAltctl, 0},
	"POSCTL":             {px4MainPosctl, 0},
	"ACRO":               {px4MainAcro, 0},
	"OFFBOARD":           {px4MainOffboard, 0},
	"STABILIZED":         {px4MainStabilized, 0},
	"RATTITUDE":          {px4MainRattitude, 0},
	"AUTO.READY":         {px4MainAuto, 1},
	"AUTO.TAKEOFF":       {px4MainAuto, 2},
	"AUTO.LOITER":        {px4MainAuto, 3},
	"AUTO.MISSION":       {px4MainAuto, 4},
	"AUTO.RTL":           {px4MainAuto, 5},
	"AUTO.LAND":          {px4MainAuto, 6},
	"AUTO.RTGS":          {px4MainAuto, 7},
	"AUTO.FOLLOW_TARGET": {px4MainAuto, 8},
	"AUTO.PRECLAND":      {px4MainAuto, 9},
}

var px4Names = func() map[px4Mode]string {
	m := make(map[px4Mode]string, len(px4Modes))
	for name, mode := range px4Modes {
		m[mode] = name
	}
	return m
}()

// CustomMode packs a PX4 main and sub mode into a custom_mode value.
func CustomMode(main, sub uint8) uint32 {
	return uint32(main)<<16 | uint32(sub)<<24
}

// DecodeMode turns a PX4 custom_mode into its mode name. Unknown values
// come back as CMODE(n).
func DecodeMode(customMode uint32) string {
	main := uint8(customMode >> 16)
	sub := uint8(customMode >> 24)
	if name, ok := px4Names[px4Mode{main, sub}]; ok {
		return name
	}
	// Non-auto modes ignore the sub mode.
	if main != px4MainAuto {
		if name, ok := px4Names[px4Mode{main, 0}]; ok {
			return name
		}
	}
	return "CMODE(" + strconv.FormatUint(uint64(customMode), 10) + ")"
}

// EncodeMode returns the PX4 main and sub mode for a mode name. Names are
// case-insensitive.
func EncodeMode(name string) (main, sub uint8, err error) {
	m, ok := px4Modes[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, 0, fmt.Errorf("unknown PX4 mode %q", name)
	}
	return m.main, m.sub, nil
}
