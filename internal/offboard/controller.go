package offboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"offnav/internal/geometry/vector"
	"offnav/internal/log"
	"offnav/internal/nav"
	"offnav/internal/telemetry"
)

// Status is a point-in-time view of the controller.
type Status struct {
	Phase     Phase                 `json:"phase"`
	State     telemetry.StateSample `json:"state"`
	Pose      telemetry.PoseSample  `json:"pose"`
	Velocity  vector.Vec3           `json:"velocity"`
	Target    vector.Vec3           `json:"target"`
	Home      vector.Vec3           `json:"home"`
	Setpoint  vector.Vec3           `json:"setpoint"`
	Reached   bool                  `json:"reached"`
	AtHome    bool                  `json:"atHome"`
	Stopped   bool                  `json:"stopped"`
	Published uint64                `json:"published"`
	TS        time.Time             `json:"ts"`
}

// Controller wires the telemetry cache, arrival tracker, sequencer and
// publisher together. It is the telemetry.Sink handed to the transport.
type Controller struct {
	cache   *telemetry.Cache
	tracker *nav.Tracker
	seq     *Sequencer
	pub     *Publisher
	lg      *log.Logger

	subsMu     sync.Mutex
	subs       map[chan Status]struct{}
	subsClosed bool
}

var _ telemetry.Sink = (*Controller)(nil)

func New(cfg Config, link Link, tracker *nav.Tracker, lg *log.Logger) *Controller {
	c := &Controller{
		cache:   telemetry.NewCache(nil),
		tracker: tracker,
		lg:      lg,
		subs:    make(map[chan Status]struct{}),
	}

	var seq *Sequencer
	c.pub = NewPublisher(link, cfg.Period(), func() vector.Vec3 { return seq.Setpoint() },
		lg.With(slog.String("component", "publisher")))
	seq = NewSequencer(cfg, link, c.cache, tracker, c.pub,
		lg.With(slog.String("component", "sequencer")))
	seq.OnPhase = func(from, to Phase) { c.broadcast(c.Status()) }
	c.seq = seq

	return c
}

func (c *Controller) UpdateState(st telemetry.VehicleState) {
	prev := c.cache.State()
	c.cache.UpdateState(st)
	if prev.VehicleState != st {
		c.lg.Info("vehicle state", slog.Bool("connected", st.Connected),
			slog.Bool("armed", st.Armed), slog.String("mode", st.Mode))
	}
}

func (c *Controller) UpdatePose(p vector.Vec3) {
	c.cache.UpdatePose(p)
	c.tracker.Observe(p)
}

func (c *Controller) UpdateVelocity(v vector.Vec3) {
	c.cache.UpdateVelocity(v)
	c.lg.Debug("velocity", slog.Any("velocity", v))
}

// Done is closed when the vehicle has been disarmed at home.
func (c *Controller) Done() <-chan struct{} { return c.seq.Done() }

func (c *Controller) Phase() Phase { return c.seq.Phase() }

func (c *Controller) Cache() *telemetry.Cache { return c.cache }

// Run drives the sequencer and publisher until the sequencer terminates
// or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.closeSubscribers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pub.Run(gctx) })
	g.Go(func() error { return c.seq.Run(gctx) })
	return g.Wait()
}

func (c *Controller) Status() Status {
	return Status{
		Phase:     c.seq.Phase(),
		State:     c.cache.State(),
		Pose:      c.cache.Pose(),
		Velocity:  c.cache.Velocity(),
		Target:    c.tracker.Target(),
		Home:      c.tracker.Home(),
		Setpoint:  c.seq.Setpoint(),
		Reached:   c.tracker.Reached(),
		AtHome:    c.tracker.AtHome(),
		Stopped:   c.pub.Stopped(),
		Published: c.pub.Published(),
		TS:        time.Now(),
	}
}

// Subscribe returns a channel that receives a Status on every phase
// change, starting with the current one. Slow subscribers miss updates.
func (c *Controller) Subscribe(ctx context.Context) (<-chan Status, func()) {
	ch := make(chan Status, 8)

	c.subsMu.Lock()
	if c.subsClosed {
		c.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	ch <- c.Status()
	c.subsMu.Unlock()

	unsub := func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
	go func() {
		<-ctx.Done()
		unsub()
	}()
	return ch, unsub
}

func (c *Controller) broadcast(st Status) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
			// slow subscriber -> drop update
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.subsClosed = true
}
