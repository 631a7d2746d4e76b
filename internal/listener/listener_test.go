package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/pip"
)

var at = time.Date(2026, 6, 21, 5, 0, 0, 0, time.UTC)

func scenarioA() []device.State {
	coords := func(lat, lon float64) *device.Coordinates {
		return &device.Coordinates{Latitude: lat, Longitude: lon}
	}
	return []device.State{
		{Device: device.Device{ID: 1, Name: "gps", Kind: device.KindGPS, Priority: 2}, Status: device.StatusActive, Quality: 0.9, Coordinates: coords(48.1, 11.5), LastSeen: at},
		{Device: device.Device{ID: 2, Name: "manual", Kind: device.KindManual, Priority: 1}, Status: device.StatusActive, Quality: 1, Coordinates: coords(52, 4.3), LastSeen: at},
		{Device: device.Device{ID: 3, Name: "sensor", Kind: device.KindSensor, Priority: 3}, Status: device.StatusInactive},
	}
}

// socketPath returns a short socket path; t.TempDir names can exceed the
// sun_path limit on some systems.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "snd")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startListener(t *testing.T, cfg Config, src Source) (*Listener, func() error) {
	t.Helper()

	if cfg.SocketPath == "" {
		cfg.SocketPath = socketPath(t)
	}
	l := New(cfg, src)
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	var (
		once     sync.Once
		serveErr error
	)
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case serveErr = <-done:
			case <-time.After(2 * time.Second):
				t.Error("Serve() did not return after cancellation")
			}
		})
		return serveErr
	}
	t.Cleanup(func() { _ = stop() })
	return l, stop
}

func TestListener_ServesProvider(t *testing.T) {
	state := pip.NewState(pip.Resolve(scenarioA(), at))
	l, _ := startListener(t, Config{}, state)

	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			resp, err := Query(context.Background(), l.Addr(), enc)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if resp.Status != StatusOK || resp.Provider == nil {
				t.Fatalf("Query() = %+v, want ok with provider", resp)
			}
			p := resp.Provider
			if p.DeviceID != 1 || p.Name != "gps" || p.Kind != device.KindGPS {
				t.Errorf("provider = %d/%s/%s, want 1/gps/gps", p.DeviceID, p.Name, p.Kind)
			}
			if p.Coordinates == nil || p.Coordinates.Latitude != 48.1 || p.Coordinates.Longitude != 11.5 {
				t.Errorf("provider coordinates = %+v", p.Coordinates)
			}
			if !p.ResolvedAt.Equal(at) {
				t.Errorf("provider resolved_at = %v, want %v", p.ResolvedAt, at)
			}
		})
	}
}

func TestListener_ScenarioB(t *testing.T) {
	states := scenarioA()
	for i := range states {
		states[i].Status = device.StatusInactive
	}
	state := pip.NewState(pip.Resolve(states, at))
	l, _ := startListener(t, Config{}, state)

	resp, err := Query(context.Background(), l.Addr(), EncodingJSON)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if resp.Status != StatusUnavailable || resp.Provider != nil {
		t.Errorf("Query() = %+v, want unavailable", resp)
	}
}

func rawRequest(t *testing.T, path, request string, closeWrite bool) map[string]any {
	t.Helper()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if request != "" {
		if _, err := conn.Write([]byte(request)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if closeWrite {
		if err := conn.(*net.UnixConn).CloseWrite(); err != nil {
			t.Fatalf("CloseWrite() error = %v", err)
		}
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(line, &out); err != nil {
		t.Fatalf("response %q is not JSON: %v", line, err)
	}
	return out
}

func TestListener_MalformedRequestIsPerConnection(t *testing.T) {
	state := pip.NewState(pip.Resolve(scenarioA(), at))
	l, _ := startListener(t, Config{MaxRequestBytes: 32}, state)

	bad := rawRequest(t, l.Addr(), "teleport\n", false)
	if bad["status"] != StatusError || bad["error"] == "" {
		t.Errorf("malformed request response = %v", bad)
	}

	long := rawRequest(t, l.Addr(), fmt.Sprintf("position %040d\n", 0), false)
	if long["status"] != StatusError {
		t.Errorf("oversized request response = %v", long)
	}

	// The accept loop is still serving.
	ok := rawRequest(t, l.Addr(), "", true)
	if ok["status"] != StatusOK {
		t.Errorf("empty request response = %v, want ok", ok)
	}

	deadline := time.Now().Add(time.Second)
	for (l.Failed() != 2 || l.Served() != 1) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Failed() != 2 || l.Served() != 1 {
		t.Errorf("Failed()/Served() = %d/%d, want 2/1", l.Failed(), l.Served())
	}
}

func TestListener_ClientHangsUp(t *testing.T) {
	state := pip.NewState(pip.Resolve(scenarioA(), at))
	l, _ := startListener(t, Config{ReadTimeout: 50 * time.Millisecond}, state)

	conn, err := net.Dial("unix", l.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()

	// Whatever happened to that connection, new ones are still answered.
	if _, err := Query(context.Background(), l.Addr(), EncodingJSON); err != nil {
		t.Errorf("Query() after hang-up error = %v", err)
	}
}

func TestListener_ConcurrentReadersDuringPublish(t *testing.T) {
	state := pip.NewState(pip.Resolve(scenarioA(), at))
	l, _ := startListener(t, Config{}, state)

	stop := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		states := scenarioA()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			states[0].Status = device.StatusActive
			if i%2 == 1 {
				states[0].Status = device.StatusDegraded
			}
			_ = state.Publish(pip.Resolve(states, at))
		}
	}()

	var readers sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			resp, err := Query(context.Background(), l.Addr(), EncodingJSON)
			if err != nil {
				errs <- err
				return
			}
			// Only the two elections ever published may be observed.
			p := resp.Provider
			if p == nil || !((p.DeviceID == 1 && p.Coordinates.Latitude == 48.1) || (p.DeviceID == 2 && p.Coordinates.Latitude == 52)) {
				errs <- fmt.Errorf("unexpected provider %+v", p)
			}
		}()
	}
	readers.Wait()
	close(stop)
	writer.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestListener_SocketFile(t *testing.T) {
	path := socketPath(t)
	state := pip.NewState(nil)
	l, stop := startListener(t, Config{SocketPath: path, SocketMode: 0o600}, state)

	fi, err := os.Stat(l.Addr())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("socket mode = %o, want 600", fi.Mode().Perm())
	}

	// A second daemon on the same path must not steal the socket.
	if err := New(Config{SocketPath: path}, state).Listen(); !errors.Is(err, ErrAcceptFailed) {
		t.Errorf("Listen() on a live socket error = %v, want ErrAcceptFailed", err)
	}

	if err := stop(); err != nil {
		t.Errorf("Serve() error = %v, want nil on shutdown", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	path := socketPath(t)

	// Leave a socket file behind with nothing listening on it.
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	l := New(Config{SocketPath: path}, pip.NewState(nil))
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen() over stale socket error = %v", err)
	}
	_ = l.Close()
}

func TestListen_RefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, []byte("not a socket"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := New(Config{SocketPath: path}, pip.NewState(nil)).Listen()
	if !errors.Is(err, ErrAcceptFailed) {
		t.Errorf("Listen() error = %v, want ErrAcceptFailed", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("regular file was removed: %v", statErr)
	}
}

func TestServe_BeforeListen(t *testing.T) {
	l := New(Config{SocketPath: socketPath(t)}, pip.NewState(nil))
	if err := l.Serve(context.Background()); !errors.Is(err, ErrAcceptFailed) {
		t.Errorf("Serve() before Listen error = %v, want ErrAcceptFailed", err)
	}
}

func TestListener_RateLimit(t *testing.T) {
	state := pip.NewState(pip.Resolve(scenarioA(), at))
	l, _ := startListener(t, Config{MaxConnRate: 1000, ConnBurst: 5}, state)

	for i := 0; i < 10; i++ {
		if _, err := Query(context.Background(), l.Addr(), EncodingMsgpack); err != nil {
			t.Fatalf("Query() #%d error = %v", i, err)
		}
	}
}

func TestQuery_Errors(t *testing.T) {
	if _, err := Query(context.Background(), socketPath(t), EncodingJSON); err == nil {
		t.Error("Query() with no daemon expected error, got nil")
	}
	if _, err := Query(context.Background(), socketPath(t), "xml"); !errors.Is(err, ErrMalformedRequest) {
		t.Errorf("Query(xml) error = %v, want ErrMalformedRequest", err)
	}
}
