package offboard

import (
	"context"
	"sync"
	"time"

	"offnav/internal/geometry/vector"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type rpcCall struct {
	At    time.Time
	Mode  string
	Arm   bool
	IsArm bool
}

// fakeLink records every call. Results are configurable per RPC kind.
type fakeLink struct {
	mu        sync.Mutex
	now       func() time.Time
	setpoints []vector.Vec3
	calls     []rpcCall

	modeOK   bool
	armOK    bool
	disarmOK bool
	err      error

	// onSetMode and onSetArmed run after a successful call, outside the lock.
	onSetMode  func(mode string)
	onSetArmed func(arm bool)
}

func newFakeLink(now func() time.Time) *fakeLink {
	return &fakeLink{now: now, modeOK: true, armOK: true, disarmOK: true}
}

func (f *fakeLink) PublishSetpoint(p vector.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setpoints = append(f.setpoints, p)
}

func (f *fakeLink) SetMode(ctx context.Context, mode string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{At: f.now(), Mode: mode})
	ok, err, hook := f.modeOK, f.err, f.onSetMode
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	if ok && hook != nil {
		hook(mode)
	}
	return ok, nil
}

func (f *fakeLink) SetArmed(ctx context.Context, arm bool) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{At: f.now(), Arm: arm, IsArm: true})
	ok := f.armOK
	if !arm {
		ok = f.disarmOK
	}
	err, hook := f.err, f.onSetArmed
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	if ok && hook != nil {
		hook(arm)
	}
	return ok, nil
}

func (f *fakeLink) Calls() []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rpcCall(nil), f.calls...)
}

func (f *fakeLink) ModeCalls() []rpcCall {
	var out []rpcCall
	for _, c := range f.Calls() {
		if !c.IsArm {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLink) ArmCalls(arm bool) []rpcCall {
	var out []rpcCall
	for _, c := range f.Calls() {
		if c.IsArm && c.Arm == arm {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLink) Setpoints() []vector.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vector.Vec3(nil), f.setpoints...)
}

func (f *fakeLink) set(fn func(f *fakeLink)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
