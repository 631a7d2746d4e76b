package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sunneed/sunneed/internal/listener"
)

func TestExecute_Help(t *testing.T) {
	for _, flag := range []string{"-h", "--help"} {
		t.Run(flag, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), []string{"/usr/local/bin/sunneed", flag}, &stdout, &stderr)
			if code != 0 {
				t.Fatalf("execute(%s) = %d, want 0 (stderr %q)", flag, code, stderr.String())
			}
			if !strings.Contains(stdout.String(), "Usage:") || !strings.Contains(stdout.String(), "sunneed") {
				t.Errorf("help output = %q, want usage naming the program", stdout.String())
			}
		})
	}
}

func TestExecute_HelpNamesInvokedProgram(t *testing.T) {
	var stdout bytes.Buffer
	if code := execute(context.Background(), []string{"./pipd", "-h"}, &stdout, io.Discard); code != 0 {
		t.Fatalf("execute() = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "pipd [flags]") {
		t.Errorf("help output = %q, want it to name pipd", stdout.String())
	}
}

func TestExecute_BadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown shorthand", args: []string{"sunneed", "-x"}, want: "sunneed: illegal option -x\n"},
		{name: "unknown long flag", args: []string{"sunneed", "--bogus"}, want: "sunneed: illegal option --bogus\n"},
		{name: "missing argument", args: []string{"sunneed", "-c"}, want: "sunneed: expected argument for option -c\n"},
		{name: "missing long argument", args: []string{"sunneed", "--config"}, want: "sunneed: expected argument for option --config\n"},
		{name: "query unknown flag", args: []string{"sunneed", "query", "-z"}, want: "sunneed: illegal option -z\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), tt.args, &stdout, &stderr)
			if code != 1 {
				t.Errorf("execute(%v) = %d, want 1", tt.args, code)
			}
			if stderr.String() != tt.want {
				t.Errorf("stderr = %q, want %q", stderr.String(), tt.want)
			}
		})
	}
}

func TestExecute_Version(t *testing.T) {
	var stdout bytes.Buffer
	if code := execute(context.Background(), []string{"sunneed", "-v"}, &stdout, io.Discard); code != 0 {
		t.Fatalf("execute(-v) = %d, want 0", code)
	}
	if !strings.HasPrefix(stdout.String(), "sunneed "+version) {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestExecute_MissingConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := execute(context.Background(), []string{"sunneed", "-c", "/nonexistent/config.yaml"}, io.Discard, &stderr)
	if code != 1 {
		t.Errorf("execute() = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "loading config") {
		t.Errorf("stderr = %q, want loading config error", stderr.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("SUNNEED_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath(\"\") = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SUNNEED_CONFIG", "/tmp/env.yaml")
	if got := resolveConfigPath(""); got != "/tmp/env.yaml" {
		t.Errorf("resolveConfigPath(\"\") = %q, want /tmp/env.yaml", got)
	}
	if got := resolveConfigPath("/tmp/flag.yaml"); got != "/tmp/flag.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q, want /tmp/flag.yaml", got)
	}
}

// writeDaemonConfig writes a config and device list into a short temp dir
// (Unix socket paths are length-limited) and returns the config path and socket.
func writeDaemonConfig(t *testing.T, devices string) (string, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "snd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	devicesPath := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(devicesPath, []byte(devices), 0o600); err != nil {
		t.Fatal(err)
	}

	socket := filepath.Join(dir, "s.sock")
	cfg := fmt.Sprintf(`
devices:
  source: file
  file: %q
monitor:
  poll_interval: 50ms
  probe_timeout: 50ms
listener:
  socket_path: %q
logging:
  level: error
`, devicesPath, socket)

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, socket
}

func TestRun_ServesElectedProvider(t *testing.T) {
	configPath, socket := writeDaemonConfig(t, `
devices:
  - id: 1
    name: manual
    kind: manual
    priority: 1
    params:
      latitude: 51.5
      longitude: -0.12
  - id: 2
    name: office
    kind: manual
    priority: 5
    params:
      latitude: 48.85
      longitude: 2.35
      quality: 0.8
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, configPath, io.Discard) }()

	var resp *listener.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := listener.Query(context.Background(), socket, listener.EncodingJSON)
		if err == nil && r.Status == listener.StatusOK {
			resp = r
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if resp == nil {
		cancel()
		t.Fatalf("daemon never served a provider (run returned: %v)", drain(done))
	}
	if resp.Provider.DeviceID != 2 || resp.Provider.Name != "office" {
		t.Errorf("provider = %d %q, want 2 \"office\"", resp.Provider.DeviceID, resp.Provider.Name)
	}

	var stdout bytes.Buffer
	if code := execute(context.Background(), []string{"sunneed", "-c", configPath, "query"}, &stdout, io.Discard); code != 0 {
		t.Errorf("query exit = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), `"office"`) {
		t.Errorf("query output = %q, want provider office", stdout.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
}

func TestRun_FirstAnswerIsProbed(t *testing.T) {
	// A configured active status elects the device before any probe, so the
	// first answer the socket gives must already carry the probed reading.
	configPath, socket := writeDaemonConfig(t, `
devices:
  - id: 1
    name: desk
    kind: manual
    status: active
    params:
      latitude: 51.5
      longitude: -0.12
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, configPath, io.Discard) }()
	t.Cleanup(func() {
		cancel()
		drain(done) //nolint:errcheck // shutdown result is covered elsewhere
	})

	var resp *listener.Response
	deadline := time.Now().Add(5 * time.Second)
	for resp == nil && time.Now().Before(deadline) {
		if r, err := listener.Query(context.Background(), socket, listener.EncodingJSON); err == nil {
			resp = r
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if resp == nil {
		cancel()
		t.Fatalf("daemon never answered (run returned: %v)", drain(done))
	}

	if resp.Status != listener.StatusOK || resp.Provider == nil {
		t.Fatalf("first answer = %+v, want an elected provider", resp)
	}
	if resp.Provider.Coordinates == nil || resp.Provider.Coordinates.Latitude != 51.5 {
		t.Errorf("first answer coordinates = %+v, want the probed position", resp.Provider.Coordinates)
	}
	if resp.Provider.LastSeen.IsZero() {
		t.Error("first answer has no last_seen")
	}
}

type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func TestHealthCheck(t *testing.T) {
	down := errors.New("not connected")
	tests := []struct {
		name       string
		components []component
		want       string
	}{
		{name: "none enabled"},
		{name: "all healthy", components: []component{{"database", stubChecker{}}, {"mqtt", stubChecker{}}}},
		{
			name:       "first failure is reported",
			components: []component{{"database", stubChecker{}}, {"mqtt", stubChecker{down}}, {"influxdb", stubChecker{errors.New("later")}}},
			want:       "mqtt: not connected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := healthCheck(context.Background(), tt.components)
			if tt.want == "" {
				if err != nil {
					t.Errorf("healthCheck() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.want || !errors.Is(err, down) {
				t.Errorf("healthCheck() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestInfrastructure_SkipsDisabled(t *testing.T) {
	if got := infrastructure(nil, nil, nil); len(got) != 0 {
		t.Errorf("infrastructure(nil, nil, nil) = %v, want none", got)
	}
}

func TestRun_DeviceLoadFailure(t *testing.T) {
	configPath, _ := writeDaemonConfig(t, `
devices:
  - id: 1
    kind: teleport
`)
	err := run(context.Background(), configPath, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "loading devices") {
		t.Errorf("run() error = %v, want device load failure", err)
	}
}

func TestQuery_NoDaemon(t *testing.T) {
	var stderr bytes.Buffer
	args := []string{"sunneed", "query", "--socket", filepath.Join(t.TempDir(), "missing.sock")}
	if code := execute(context.Background(), args, io.Discard, &stderr); code != 1 {
		t.Errorf("query exit = %d, want 1", code)
	}
	if stderr.Len() == 0 {
		t.Error("expected a diagnostic on stderr")
	}
}

func drain(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		return nil
	}
}
