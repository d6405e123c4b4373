package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tinlera/Clara-Security/internal/capability"
	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/store"
	"github.com/Tinlera/Clara-Security/internal/supervisor"
	"github.com/Tinlera/Clara-Security/internal/trust"
)

type noopCapability struct{}

func (noopCapability) Inspect(ctx context.Context, pkg string) (capability.PackageInfo, error) {
	return capability.PackageInfo{Package: pkg, InstallSource: clara.SourcePlayStore}, nil
}
func (noopCapability) ListInstalled(ctx context.Context) ([]string, error)                { return nil, nil }
func (noopCapability) SuspendApp(ctx context.Context, pkg string) error                    { return nil }
func (noopCapability) UnsuspendApp(ctx context.Context, pkg string) error                  { return nil }
func (noopCapability) ForceStopApp(ctx context.Context, pkg string) error                  { return nil }
func (noopCapability) RevokePermission(ctx context.Context, pkg, permission string) error  { return nil }
func (noopCapability) GrantPermission(ctx context.Context, pkg, permission string) error   { return nil }
func (noopCapability) BlockNetwork(ctx context.Context, pkg string) error                  { return nil }
func (noopCapability) UnblockNetwork(ctx context.Context, pkg string) error                { return nil }

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	bus := eventbus.NewBus(16)
	bus.Run()

	sup := supervisor.New(nil, st, bus)
	sup.Run()

	engine := trust.NewEngine(st, noopCapability{}, bus)

	socketPath := filepath.Join(dir, "orchestrator.sock")
	srv := New(socketPath, sup, engine, bus)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	cleanup := func() {
		cancel()
		srv.Close()
		sup.Shutdown(context.Background())
		bus.Stop()
	}
	return srv, cleanup
}

func sendCommand(t *testing.T, socketPath, line string) map[string]interface{} {
	t.Helper()

	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", resp, err)
	}
	return out
}

func TestStatusCommandReturnsRunningTrue(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp := sendCommand(t, srv.socketPath, "status")
	if resp["running"] != true {
		t.Errorf("status response = %+v, want running=true", resp)
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	resp := sendCommand(t, srv.socketPath, "not_a_real_command")
	if resp["error"] != "unknown_command" {
		t.Errorf("resp = %+v, want error=unknown_command", resp)
	}
}

func TestTrustCommandReturnsScoreForRegisteredApp(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	if _, err := srv.engine.RegisterApp(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}

	resp := sendCommand(t, srv.socketPath, "trust com.example.app")
	if resp["package"] != "com.example.app" {
		t.Errorf("resp = %+v, want package=com.example.app", resp)
	}
	if resp["status"] != string(clara.StatusTrusted) {
		t.Errorf("resp = %+v, want status=trusted", resp)
	}
}

func TestWhitelistCommandTogglesWhitelist(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	if _, err := srv.engine.RegisterApp(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}

	resp := sendCommand(t, srv.socketPath, "whitelist com.example.app on")
	if resp["success"] != true {
		t.Errorf("whitelist resp = %+v, want success=true", resp)
	}

	rec, err := srv.engine.GetAppInfo(context.Background(), "com.example.app")
	if err != nil {
		t.Fatalf("GetAppInfo: %v", err)
	}
	if !rec.Whitelisted {
		t.Errorf("expected app to be whitelisted after command")
	}
}

func TestServicesCommandReturnsEmptyListWithNoDescriptors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("unix", srv.socketPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("services\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var out []serviceEntry
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", resp, err)
	}
	if len(out) != 0 {
		t.Errorf("services = %+v, want empty", out)
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "orchestrator.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	st, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	bus := eventbus.NewBus(16)
	bus.Run()
	defer bus.Stop()

	sup := supervisor.New(nil, st, bus)
	sup.Run()
	defer sup.Shutdown(context.Background())

	engine := trust.NewEngine(st, noopCapability{}, bus)

	srv := New(socketPath, sup, engine, bus)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen should remove stale socket file: %v", err)
	}
	defer srv.Close()
}
