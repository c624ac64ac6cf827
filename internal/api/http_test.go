package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offnav/internal/geometry/vector"
	"offnav/internal/offboard"
	"offnav/internal/sim"
)

type fakeSource struct {
	st offboard.Status
	ch chan offboard.Status
}

func (f *fakeSource) Status() offboard.Status { return f.st }

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan offboard.Status, func()) {
	return f.ch, func() {}
}

type fakeVehicle struct {
	st  sim.State
	err error
}

func (f fakeVehicle) GetState(ctx context.Context) (sim.State, error) { return f.st, f.err }

func TestHealth(t *testing.T) {
	srv := NewServer(&fakeSource{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestStatus(t *testing.T) {
	src := &fakeSource{st: offboard.Status{
		Phase:   offboard.PhaseStreaming,
		Target:  vector.NewVec3(0.5, 0, 0.5),
		Reached: true,
	}}
	srv := NewServer(src, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Phase   string      `json:"phase"`
		Target  vector.Vec3 `json:"target"`
		Reached bool        `json:"reached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "STREAMING", body.Phase)
	assert.Equal(t, vector.NewVec3(0.5, 0, 0.5), body.Target)
	assert.True(t, body.Reached)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestVehicleRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(&fakeSource{}, nil, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vehicle", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	veh := fakeVehicle{st: sim.State{Mode: sim.ModeOffboard, Armed: true}}
	rec = httptest.NewRecorder()
	NewServer(&fakeSource{}, veh, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vehicle", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode": "OFFBOARD"`)

	rec = httptest.NewRecorder()
	NewServer(&fakeSource{}, fakeVehicle{err: context.DeadlineExceeded}, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vehicle", nil))
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
}

func TestEventsStream(t *testing.T) {
	src := &fakeSource{ch: make(chan offboard.Status, 4)}
	ts := httptest.NewServer(NewServer(src, nil, nil).Handler())
	defer ts.Close()

	src.ch <- offboard.Status{Phase: offboard.PhaseWarmup}
	src.ch <- offboard.Status{Phase: offboard.PhaseNegotiating}
	close(src.ch)

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events, data []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, []string{"phase", "phase", "end"}, events)
	require.Len(t, data, 3)
	assert.Contains(t, data[0], `"phase":"WARMUP"`)
	assert.Contains(t, data[1], `"phase":"NEGOTIATING"`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(&fakeSource{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get("http://" + ln.Addr().String() + "/health")
	assert.Error(t, err)
}

func TestServeReportsListenerFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()

	err = NewServer(&fakeSource{}, nil, nil).Serve(context.Background(), ln)
	require.Error(t, err)
	assert.False(t, errors.Is(err, http.ErrServerClosed))
}
