package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tinlera/Clara-Security/internal/capability"
	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/store"
	"github.com/Tinlera/Clara-Security/internal/supervisor"
	"github.com/Tinlera/Clara-Security/internal/trust"
)

type stubCapability struct{}

func (stubCapability) Inspect(ctx context.Context, pkg string) (capability.PackageInfo, error) {
	return capability.PackageInfo{Package: pkg, InstallSource: clara.SourcePlayStore}, nil
}
func (stubCapability) ListInstalled(ctx context.Context) ([]string, error)                { return nil, nil }
func (stubCapability) SuspendApp(ctx context.Context, pkg string) error                    { return nil }
func (stubCapability) UnsuspendApp(ctx context.Context, pkg string) error                  { return nil }
func (stubCapability) ForceStopApp(ctx context.Context, pkg string) error                  { return nil }
func (stubCapability) RevokePermission(ctx context.Context, pkg, permission string) error  { return nil }
func (stubCapability) GrantPermission(ctx context.Context, pkg, permission string) error   { return nil }
func (stubCapability) BlockNetwork(ctx context.Context, pkg string) error                  { return nil }
func (stubCapability) UnblockNetwork(ctx context.Context, pkg string) error                { return nil }

func newTestAdmin(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	bus := eventbus.NewBus(16)
	bus.Run()
	t.Cleanup(bus.Stop)

	sup := supervisor.New(nil, st, bus)
	sup.Run()
	t.Cleanup(func() { sup.Shutdown(context.Background()) })

	engine := trust.NewEngine(st, stubCapability{}, bus)
	return New(sup, engine)
}

func TestHealthzReturnsOK(t *testing.T) {
	srv := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
}

func TestDebugServicesReturnsEmptyListWithNoRoster(t *testing.T) {
	srv := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/services", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []serviceDebugEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("services = %+v, want empty", out)
	}
}

func TestDebugTrustReturnsNotFoundForUnknownPackage(t *testing.T) {
	srv := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/trust/com.unknown.app", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDebugTrustReturnsScoreForRegisteredApp(t *testing.T) {
	srv := newTestAdmin(t)

	if _, err := srv.engine.RegisterApp(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/trust/com.example.app", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body trustDebugResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Package != "com.example.app" {
		t.Errorf("package = %q", body.Package)
	}
}
