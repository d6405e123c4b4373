package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/store"
)

// writeScript drops an executable shell script at dir/name that runs
// body, standing in for a real service binary in tests.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestSupervisor(t *testing.T, descriptors []clara.ServiceDescriptor) *Supervisor {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	bus := eventbus.NewBus(16)
	bus.Run()
	t.Cleanup(bus.Stop)
	return New(descriptors, st, bus)
}

func TestStartServiceTransitionsToRunning(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "longrunner.sh", "sleep 5")

	sup := newTestSupervisor(t, []clara.ServiceDescriptor{
		{Name: "longrunner", BinaryPath: bin, AutoRestart: false, MaxRestarts: 2, RestartDelayMs: 10},
	})
	sup.Run()
	defer sup.Shutdown(context.Background())

	if err := sup.StartService(context.Background(), "longrunner"); err != nil {
		t.Fatalf("StartService: %v", err)
	}

	st, err := sup.GetServiceState("longrunner")
	if err != nil {
		t.Fatalf("GetServiceState: %v", err)
	}
	if st.Status != clara.ServiceRunning {
		t.Errorf("status = %v, want running", st.Status)
	}
	if st.PID == 0 {
		t.Errorf("expected nonzero pid")
	}
}

func TestStartServiceThatExitsImmediatelyReportsError(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "failer.sh", "exit 1")

	sup := newTestSupervisor(t, []clara.ServiceDescriptor{
		{Name: "failer", BinaryPath: bin, AutoRestart: false, MaxRestarts: 2, RestartDelayMs: 10},
	})
	sup.Run()
	defer sup.Shutdown(context.Background())

	err := sup.StartService(context.Background(), "failer")
	if err == nil {
		t.Fatalf("expected error for immediately-exiting service")
	}

	st, getErr := sup.GetServiceState("failer")
	if getErr != nil {
		t.Fatalf("GetServiceState: %v", getErr)
	}
	if st.Status != clara.ServiceError {
		t.Errorf("status = %v, want error", st.Status)
	}
}

func TestUnexpectedExitTriggersRestartWithinBudget(t *testing.T) {
	dir := t.TempDir()
	// Sleeps past settleDelay (500ms) so StartService's settle check
	// sees it alive, then exits so watchExits' restart path fires.
	bin := writeScript(t, dir, "flaky.sh", "sleep 1; exit 1")

	sup := newTestSupervisor(t, []clara.ServiceDescriptor{
		{Name: "flaky", BinaryPath: bin, AutoRestart: true, MaxRestarts: 2, RestartDelayMs: 10},
	})
	sup.Run()
	defer sup.Shutdown(context.Background())

	if err := sup.StartService(context.Background(), "flaky"); err != nil {
		t.Fatalf("StartService: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := sup.GetServiceState("flaky")
		if err == nil && st.RestartCount > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected at least one restart within budget")
}

func TestStopServiceSendsTerminationAndReaps(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "longrunner.sh", "trap 'exit 0' TERM; sleep 30")

	sup := newTestSupervisor(t, []clara.ServiceDescriptor{
		{Name: "longrunner", BinaryPath: bin, AutoRestart: false, MaxRestarts: 2, RestartDelayMs: 10},
	})
	sup.Run()
	defer sup.Shutdown(context.Background())

	if err := sup.StartService(context.Background(), "longrunner"); err != nil {
		t.Fatalf("StartService: %v", err)
	}
	if err := sup.StopService(context.Background(), "longrunner"); err != nil {
		t.Fatalf("StopService: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := sup.GetServiceState("longrunner")
		if err == nil && st.Status == clara.ServiceStopped {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected service to reach stopped state after StopService")
}
