package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/infrastructure/config"
	"github.com/sunneed/sunneed/internal/infrastructure/logging"
	"github.com/sunneed/sunneed/internal/pip"
	"github.com/sunneed/sunneed/internal/worker"
)

// fakeDevices is a fixed DeviceSource.
type fakeDevices []device.State

func (f fakeDevices) States() []device.State {
	out := make([]device.State, len(f))
	copy(out, f)
	return out
}

func (f fakeDevices) Lookup(id int) (device.State, bool) {
	for _, st := range f {
		if st.ID == id {
			return st, true
		}
	}
	return device.State{}, false
}

type fakeWorkers []worker.Stats

func (f fakeWorkers) Stats() []worker.Stats { return f }

var testFleet = fakeDevices{
	{
		Device:      device.Device{ID: 1, Name: "Manual", Kind: device.KindManual, Priority: 1},
		Status:      device.StatusActive,
		Quality:     1,
		Coordinates: &device.Coordinates{Latitude: 51.5, Longitude: -0.12},
	},
	{
		Device:      device.Device{ID: 2, Name: "GPS", Kind: device.KindGPS, Priority: 2},
		Status:      device.StatusActive,
		Quality:     0.9,
		Coordinates: &device.Coordinates{Latitude: 51.4, Longitude: -0.1},
	},
	{
		Device: device.Device{ID: 3, Name: "Sensor", Kind: device.KindSensor, Priority: 3},
		Status: device.StatusInactive,
	},
}

func testServer(t *testing.T, workers WorkerSource) (*Server, *pip.State) {
	t.Helper()

	state := pip.NewState(pip.Resolve(testFleet.States(), time.Now()))
	srv, err := New(Deps{
		Config:  config.APIConfig{StreamInterval: 10 * time.Millisecond},
		Logger:  logging.Discard(),
		State:   state,
		Devices: testFleet,
		Workers: workers,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, state
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_MissingDeps(t *testing.T) {
	state := pip.NewState(nil)
	tests := []struct {
		name string
		deps Deps
	}{
		{name: "no logger", deps: Deps{State: state, Devices: testFleet}},
		{name: "no state", deps: Deps{Logger: logging.Discard(), Devices: testFleet}},
		{name: "no devices", deps: Deps{Logger: logging.Discard(), State: state}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		workers WorkerSource
		want    string
	}{
		{name: "no workers", workers: nil, want: "ok"},
		{name: "running", workers: fakeWorkers{{Name: "monitor", Status: worker.StatusRunning}}, want: "ok"},
		{
			name: "failed worker",
			workers: fakeWorkers{
				{Name: "monitor", Status: worker.StatusRunning},
				{Name: "announcer", Status: worker.StatusFailed, LastError: "boom"},
			},
			want: "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, tt.workers)
			w := get(t, srv.Handler(), "/api/v1/health")
			if w.Code != http.StatusOK {
				t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			resp := decode(t, w)
			if resp["status"] != tt.want {
				t.Errorf("status = %v, want %v", resp["status"], tt.want)
			}
			if resp["version"] != "test" {
				t.Errorf("version = %v, want test", resp["version"])
			}
			if resp["pip_available"] != true {
				t.Errorf("pip_available = %v, want true", resp["pip_available"])
			}
		})
	}
}

// checkFunc adapts a function to HealthChecker.
type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fakeCounters struct{ a, b uint64 }

func (f fakeCounters) Served() uint64    { return f.a }
func (f fakeCounters) Failed() uint64    { return f.b }
func (f fakeCounters) Published() uint64 { return f.a }
func (f fakeCounters) Dropped() uint64   { return f.b }

func TestHealth_Components(t *testing.T) {
	healthy := checkFunc(func(context.Context) error { return nil })
	broken := checkFunc(func(context.Context) error { return errors.New("mqtt: not connected") })

	tests := []struct {
		name       string
		components map[string]HealthChecker
		want       string
	}{
		{name: "all healthy", components: map[string]HealthChecker{"database": healthy, "influxdb": healthy}, want: "ok"},
		{name: "broker down", components: map[string]HealthChecker{"database": healthy, "mqtt": broken}, want: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(Deps{
				Logger:     logging.Discard(),
				State:      pip.NewState(pip.Resolve(testFleet.States(), time.Now())),
				Devices:    testFleet,
				Components: tt.components,
				Listener:   fakeCounters{a: 7, b: 2},
				Announcer:  fakeCounters{a: 5, b: 1},
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			resp := decode(t, get(t, srv.Handler(), "/api/v1/health"))
			if resp["status"] != tt.want {
				t.Errorf("status = %v, want %v", resp["status"], tt.want)
			}

			components, _ := resp["components"].(map[string]any)
			for name := range tt.components {
				if _, ok := components[name]; !ok {
					t.Errorf("components = %v, missing %q", components, name)
				}
			}
			if tt.want == "degraded" && components["mqtt"] != "mqtt: not connected" {
				t.Errorf("components[mqtt] = %v, want the check error", components["mqtt"])
			}

			ln, _ := resp["listener"].(map[string]any)
			if ln["served"] != float64(7) || ln["failed"] != float64(2) {
				t.Errorf("listener = %v, want served 7 failed 2", ln)
			}
			ann, _ := resp["announcer"].(map[string]any)
			if ann["published"] != float64(5) || ann["dropped"] != float64(1) {
				t.Errorf("announcer = %v, want published 5 dropped 1", ann)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.Handler()

	w := get(t, h, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, nil)
	if w := get(t, srv.Handler(), "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPosition(t *testing.T) {
	srv, state := testServer(t, nil)
	h := srv.Handler()

	w := get(t, h, "/api/v1/position/")
	if w.Code != http.StatusOK {
		t.Fatalf("position status = %d, want %d", w.Code, http.StatusOK)
	}
	var snap pip.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.DeviceID != 2 || snap.Name != "GPS" {
		t.Errorf("provider = %d %q, want 2 \"GPS\"", snap.DeviceID, snap.Name)
	}
	if snap.Coordinates == nil || snap.Coordinates.Latitude != 51.4 {
		t.Errorf("coordinates = %+v, want latitude 51.4", snap.Coordinates)
	}

	if err := state.Publish(pip.Unavailable(time.Now())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	w = get(t, h, "/api/v1/position/")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unavailable status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	resp := decode(t, w)
	if resp["code"] != ErrCodeUnavailable {
		t.Errorf("code = %v, want %v", resp["code"], ErrCodeUnavailable)
	}
	if _, ok := resp["resolved_at"]; !ok {
		t.Error("unavailable response missing resolved_at")
	}
}

func TestListDevices(t *testing.T) {
	tests := []struct {
		target string
		want   int
	}{
		{target: "/api/v1/devices/", want: 3},
		{target: "/api/v1/devices/?status=active", want: 2},
		{target: "/api/v1/devices/?status=inactive", want: 1},
		{target: "/api/v1/devices/?status=degraded", want: 0},
	}
	srv, _ := testServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := get(t, srv.Handler(), tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			resp := decode(t, w)
			if got := int(resp["count"].(float64)); got != tt.want {
				t.Errorf("count = %d, want %d", got, tt.want)
			}
		})
	}
	if n := len(testFleet); n != 3 {
		t.Errorf("filter modified the registry copy: len = %d", n)
	}
}

func TestGetDevice(t *testing.T) {
	tests := []struct {
		target string
		want   int
	}{
		{target: "/api/v1/devices/3", want: http.StatusOK},
		{target: "/api/v1/devices/99", want: http.StatusNotFound},
		{target: "/api/v1/devices/abc", want: http.StatusBadRequest},
		{target: "/api/v1/devices/0", want: http.StatusBadRequest},
	}
	srv, _ := testServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := get(t, srv.Handler(), tt.target)
			if w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.target, w.Code, tt.want)
			}
		})
	}

	w := get(t, srv.Handler(), "/api/v1/devices/3")
	resp := decode(t, w)
	if resp["name"] != "Sensor" || resp["status"] != "inactive" {
		t.Errorf("device 3 = %v", resp)
	}
}

func TestWorkers(t *testing.T) {
	srv, _ := testServer(t, fakeWorkers{{Name: "monitor", Status: worker.StatusRunning}})
	resp := decode(t, get(t, srv.Handler(), "/api/v1/workers"))
	if got := int(resp["count"].(float64)); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestPositionStream(t *testing.T) {
	srv, state := testServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	go srv.watchPosition(ctx, 10*time.Millisecond)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/position/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	read := func() WSMessage {
		t.Helper()
		//nolint:errcheck // test deadline
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	first := read()
	if first.Type != WSTypePosition || first.Payload == nil || first.Payload.DeviceID != 2 {
		t.Fatalf("first message = %+v, want position from device 2", first)
	}

	if err := state.Publish(pip.Unavailable(time.Now())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	next := read()
	if next.Payload == nil || next.Payload.Available {
		t.Errorf("broadcast payload = %+v, want unavailable", next.Payload)
	}
	if next.Generation != state.Generation() {
		t.Errorf("broadcast generation = %d, want %d", next.Generation, state.Generation())
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if pong := read(); pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", pong)
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(logging.Discard())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize)}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Broadcast(pip.Unavailable(time.Now()), 7)
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Generation != 7 {
			t.Errorf("generation = %d, want 7", msg.Generation)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	// Sending to a departed client must not panic.
	client.trySend([]byte("late"))
}

func TestServer_StartClose(t *testing.T) {
	dir, err := os.MkdirTemp("", "sna")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "api.sock")

	// A leftover socket file from a previous run is replaced.
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if ul, ok := stale.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	stale.Close()

	srv, _ := testServer(t, nil)
	srv.cfg.SocketPath = path
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start expected error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}
	resp, err := client.Get("http://sunneed/api/v1/health")
	if err != nil {
		t.Fatalf("GET over socket: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestListenUnix_RefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.sock")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := listenUnix(path); err == nil {
		t.Error("listenUnix() over a regular file expected error")
	}
}
