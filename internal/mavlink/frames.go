package mavlink

import "offnav/internal/geometry/vector"

// The rest of the program works in local ENU; the autopilot uses local NED.

func NEDToENU(x, y, z float32) vector.Vec3 {
	return vector.NewVec3(float64(y), float64(x), -float64(z))
}

func ENUToNED(v vector.Vec3) (x, y, z float32) {
	return float32(v.Y), float32(v.X), float32(-v.Z)
}
