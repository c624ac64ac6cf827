// Package mavlink connects the offboard controller to a PX4 autopilot
// over MAVLink. Telemetry flows into a telemetry.Sink; setpoints and the
// set-mode/arm commands flow out.
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"offnav/internal/geometry/vector"
	"offnav/internal/log"
	"offnav/internal/offboard"
	"offnav/internal/telemetry"
)

// ErrNotConnected is returned by commands issued before the autopilot's
// heartbeat has been seen, or after it went quiet.
var ErrNotConnected = errors.New("autopilot not connected")

const (
	DefaultSystemID         = 255
	DefaultHeartbeatTimeout = 3 * time.Second
)

// positionOnly ignores velocity, acceleration, yaw and yaw rate in a
// SET_POSITION_TARGET_LOCAL_NED.
const positionOnly = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE

type Config struct {
	Endpoint string
	// SystemID is our own MAVLink system id.
	SystemID byte
	// HeartbeatTimeout is how long the autopilot may stay silent before
	// the link reports it disconnected.
	HeartbeatTimeout time.Duration
}

// Link is an offboard.Link over MAVLink. The autopilot is the first
// non-GCS system whose heartbeat is received.
type Link struct {
	cfg   Config
	node  *gomavlib.Node
	write func(message.Message)
	lg    *log.Logger
	now   func() time.Time
	start time.Time

	mu            sync.Mutex
	targetKnown   bool
	targetSystem  byte
	targetComp    byte
	connected     bool
	lastHeartbeat time.Time
	lastState     telemetry.VehicleState
	pending       map[common.MAV_CMD]chan *common.MessageCommandAck
}

var _ offboard.Link = (*Link)(nil)

// Dial opens the MAVLink endpoint. Run must be called to process traffic.
func Dial(cfg Config, lg *log.Logger) (*Link, error) {
	ep, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = DefaultSystemID
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: cfg.SystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink: open %s: %w", cfg.Endpoint, err)
	}

	l := newLink(cfg, func(m message.Message) { node.WriteMessageAll(m) }, lg)
	l.node = node
	lg.Info("mavlink endpoint open", slog.String("endpoint", cfg.Endpoint),
		slog.Int("system_id", int(cfg.SystemID)))
	return l, nil
}

func newLink(cfg Config, write func(message.Message), lg *log.Logger) *Link {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Link{
		cfg:     cfg,
		write:   write,
		lg:      lg,
		now:     time.Now,
		start:   time.Now(),
		pending: make(map[common.MAV_CMD]chan *common.MessageCommandAck),
	}
}

// Run dispatches inbound traffic to sink until ctx is done, then closes
// the node.
func (l *Link) Run(ctx context.Context, sink telemetry.Sink) error {
	defer l.node.Close()
	return l.serve(ctx, l.node.Events(), sink)
}

func (l *Link) serve(ctx context.Context, events <-chan gomavlib.Event, sink telemetry.Sink) error {
	watchdog := time.NewTicker(l.cfg.HeartbeatTimeout / 4)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *gomavlib.EventChannelOpen:
				l.lg.Info("mavlink channel open", slog.String("channel", fmt.Sprint(ev.Channel)))
			case *gomavlib.EventChannelClose:
				l.lg.Warn("mavlink channel closed", slog.String("channel", fmt.Sprint(ev.Channel)))
			case *gomavlib.EventFrame:
				l.handleMessage(ev.SystemID(), ev.ComponentID(), ev.Message(), sink)
			}

		case <-watchdog.C:
			l.checkHeartbeat(sink)
		}
	}
}

func (l *Link) handleMessage(sysID, compID byte, msg message.Message, sink telemetry.Sink) {
	switch msg := msg.(type) {
	case *common.MessageHeartbeat:
		l.handleHeartbeat(sysID, compID, msg, sink)

	case *common.MessageLocalPositionNed:
		if !l.fromTarget(sysID) {
			return
		}
		sink.UpdatePose(NEDToENU(msg.X, msg.Y, msg.Z))
		sink.UpdateVelocity(NEDToENU(msg.Vx, msg.Vy, msg.Vz))

	case *common.MessageCommandAck:
		if !l.fromTarget(sysID) {
			return
		}
		l.mu.Lock()
		ch, ok := l.pending[msg.Command]
		l.mu.Unlock()
		if !ok {
			l.lg.Debug("unsolicited command ack", slog.Any("command", msg.Command),
				slog.Any("result", msg.Result))
			return
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (l *Link) handleHeartbeat(sysID, compID byte, hb *common.MessageHeartbeat, sink telemetry.Sink) {
	if hb.Type == common.MAV_TYPE_GCS || hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
		return
	}

	st := telemetry.VehicleState{
		Connected: true,
		Armed:     hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0,
		Mode:      DecodeMode(hb.CustomMode),
	}

	l.mu.Lock()
	if !l.targetKnown {
		l.targetKnown = true
		l.targetSystem, l.targetComp = sysID, compID
		l.lg.Info("autopilot found", slog.Int("system", int(sysID)), slog.Int("component", int(compID)),
			slog.Any("autopilot", hb.Autopilot))
	} else if sysID != l.targetSystem {
		l.mu.Unlock()
		return
	}
	if !l.connected {
		l.lg.Info("autopilot connected", slog.Int("system", int(sysID)))
	}
	l.connected = true
	l.lastHeartbeat = l.now()
	l.lastState = st
	l.mu.Unlock()

	sink.UpdateState(st)
}

func (l *Link) checkHeartbeat(sink telemetry.Sink) {
	l.mu.Lock()
	if !l.connected || l.now().Sub(l.lastHeartbeat) <= l.cfg.HeartbeatTimeout {
		l.mu.Unlock()
		return
	}
	l.connected = false
	st := l.lastState
	st.Connected = false
	l.lastState = st
	since := l.lastHeartbeat
	l.mu.Unlock()

	l.lg.Warn("autopilot heartbeat lost", slog.Time("last_heartbeat", since))
	sink.UpdateState(st)
}

func (l *Link) fromTarget(sysID byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetKnown && sysID == l.targetSystem
}

// PublishSetpoint sends a position-only local setpoint. It is dropped
// until the autopilot has been found.
func (l *Link) PublishSetpoint(p vector.Vec3) {
	l.mu.Lock()
	known, sys, comp := l.targetKnown, l.targetSystem, l.targetComp
	l.mu.Unlock()
	if !known {
		return
	}

	x, y, z := ENUToNED(p)
	l.write(&common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      uint32(time.Since(l.start).Milliseconds()),
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        positionOnly,
		X:               x,
		Y:               y,
		Z:               z,
	})
}

// SetMode asks PX4 to switch to the named mode.
func (l *Link) SetMode(ctx context.Context, mode string) (bool, error) {
	main, sub, err := EncodeMode(mode)
	if err != nil {
		return false, err
	}
	return l.sendCommand(ctx, common.MAV_CMD_DO_SET_MODE, [7]float32{
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(main), float32(sub),
	})
}

func (l *Link) SetArmed(ctx context.Context, arm bool) (bool, error) {
	var p1 float32
	if arm {
		p1 = 1
	}
	return l.sendCommand(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{p1})
}

// sendCommand issues a COMMAND_LONG and waits for its COMMAND_ACK. Only
// MAV_RESULT_ACCEPTED counts as success; IN_PROGRESS keeps waiting.
func (l *Link) sendCommand(ctx context.Context, cmd common.MAV_CMD, p [7]float32) (bool, error) {
	l.mu.Lock()
	if !l.targetKnown || !l.connected {
		l.mu.Unlock()
		return false, ErrNotConnected
	}
	if _, busy := l.pending[cmd]; busy {
		l.mu.Unlock()
		return false, fmt.Errorf("command %v already in flight", cmd)
	}
	ch := make(chan *common.MessageCommandAck, 4)
	l.pending[cmd] = ch
	sys, comp := l.targetSystem, l.targetComp
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, cmd)
		l.mu.Unlock()
	}()

	l.write(&common.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	})

	for {
		select {
		case ack := <-ch:
			switch ack.Result {
			case common.MAV_RESULT_ACCEPTED:
				return true, nil
			case common.MAV_RESULT_IN_PROGRESS:
				continue
			default:
				l.lg.Debug("command refused", slog.Any("command", cmd), slog.Any("result", ack.Result))
				return false, nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return false, fmt.Errorf("%v: %w", cmd, offboard.ErrRPCTimeout)
			}
			return false, ctx.Err()
		}
	}
}

// Connected reports whether the autopilot's heartbeat is current.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}
