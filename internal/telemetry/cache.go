// Package telemetry holds the latest vehicle state and pose delivered by
// the transport. Each field is replaced wholesale on every message; readers
// see the most recently delivered value.
package telemetry

import (
	"sync/atomic"
	"time"

	"offnav/internal/geometry/vector"
)

// VehicleState mirrors the flight controller's status stream.
type VehicleState struct {
	Connected bool   `json:"connected"`
	Armed     bool   `json:"armed"`
	Mode      string `json:"mode"`
}

// StateSample is a VehicleState stamped with its arrival time.
type StateSample struct {
	VehicleState
	ReceivedAt time.Time `json:"receivedAt"`
}

// PoseSample is a position stamped with its arrival time.
type PoseSample struct {
	Position   vector.Vec3 `json:"position"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// Sink receives inbound telemetry. Transports call it from their own
// goroutines with no ordering guarantee between methods.
type Sink interface {
	UpdateState(VehicleState)
	UpdatePose(vector.Vec3)
	UpdateVelocity(vector.Vec3)
}

// Cache is the Telemetry Cache. The zero value is not usable; use NewCache.
type Cache struct {
	now func() time.Time

	state    atomic.Pointer[StateSample]
	pose     atomic.Pointer[PoseSample]
	velocity atomic.Pointer[vector.Vec3]
}

// NewCache returns a cache holding default-initialized values. now may be
// nil, in which case time.Now is used.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	c := &Cache{now: now}
	c.state.Store(&StateSample{})
	c.pose.Store(&PoseSample{})
	c.velocity.Store(&vector.Vec3{})
	return c
}

func (c *Cache) UpdateState(st VehicleState) {
	c.state.Store(&StateSample{VehicleState: st, ReceivedAt: c.now()})
}

func (c *Cache) UpdatePose(p vector.Vec3) {
	c.pose.Store(&PoseSample{Position: p, ReceivedAt: c.now()})
}

func (c *Cache) UpdateVelocity(v vector.Vec3) {
	c.velocity.Store(&v)
}

func (c *Cache) State() StateSample { return *c.state.Load() }

func (c *Cache) Pose() PoseSample { return *c.pose.Load() }

func (c *Cache) Velocity() vector.Vec3 { return *c.velocity.Load() }

// Stale reports whether decisions based on the cached state should be
// suspended at time now: the transport reports the link down, no state has
// ever arrived, or the last state is older than maxAge. A non-positive
// maxAge disables the age check.
func (c *Cache) Stale(now time.Time, maxAge time.Duration) bool {
	st := c.state.Load()
	if st.ReceivedAt.IsZero() || !st.Connected {
		return true
	}
	return maxAge > 0 && now.Sub(st.ReceivedAt) > maxAge
}
