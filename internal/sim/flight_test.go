package sim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"offnav/internal/geometry/vector"
	"offnav/internal/mission"
	"offnav/internal/nav"
	"offnav/internal/offboard"
	"offnav/internal/sim"
)

// TestFlightToHome flies a full plan against the simulated vehicle: warmup,
// offboard and arming negotiation, three waypoints, and disarm at home.
func TestFlightToHome(t *testing.T) {
	home := vector.NewVec3(1, 0, 0)
	plan := mission.Plan{Waypoints: []mission.Waypoint{
		{Name: "climb", Z: 0.5},
		{Name: "over home", X: 1, Z: 0.5},
		{Name: "land", X: 1},
	}}

	vehicle := sim.New(sim.Config{
		TickHz:          200,
		StateHz:         50,
		PoseHz:          100,
		OffboardTimeout: 200 * time.Millisecond,
		MaxSpeed:        4,
		MaxAccel:        40,
		Gain:            5,
	}, nil)

	tracker := nav.NewTracker(nav.DefaultTolerance, home, plan.First(), nil)
	ctrl := offboard.New(offboard.Config{
		RateHz:          100,
		WarmupTicks:     10,
		Liftoff:         vector.NewVec3(0, 0, 1),
		RequestCooldown: 50 * time.Millisecond,
		RPCTimeout:      200 * time.Millisecond,
		StaleAfter:      500 * time.Millisecond,
	}, vehicle, tracker, nil)
	driver := mission.NewDriver(plan, tracker, ctrl.Done(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	vctx, stopVehicle := context.WithCancel(ctx)
	defer stopVehicle()
	go func() { _ = vehicle.Run(vctx, ctrl) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return driver.Run(gctx) })
	require.NoError(t, g.Wait())
	require.NoError(t, ctx.Err(), "flight did not finish in time")

	assert.Equal(t, offboard.PhaseTerminated, ctrl.Phase())
	// The last waypoint is home, so the stop may win the race with its arrival.
	assert.GreaterOrEqual(t, driver.Arrivals(), int64(2))
	assert.True(t, tracker.AtHome())

	st, err := vehicle.GetState(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Armed)
	assert.True(t, st.Position.Within(home, 0.15))
}
