package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clara-store")
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestFileStoreAppRecordRoundTrip(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	rec := clara.AppTrustRecord{
		Package:    "com.example.app",
		InstallSrc: clara.SourcePlayStore,
		Score:      80,
		MaxScore:   95,
		Status:     clara.StatusTrusted,
		FirstSeen:  time.Now(),
	}

	if err := fs.SaveAppRecord(ctx, rec); err != nil {
		t.Fatalf("SaveAppRecord: %v", err)
	}

	got, err := fs.GetAppRecord(ctx, "com.example.app")
	if err != nil {
		t.Fatalf("GetAppRecord: %v", err)
	}
	if got.Score != 80 || got.Status != clara.StatusTrusted {
		t.Errorf("got %+v, want score 80 status trusted", got)
	}

	if _, err := fs.GetAppRecord(ctx, "com.missing"); !clara.Is(err, clara.KindNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}

	if err := fs.DeleteAppRecord(ctx, "com.example.app"); err != nil {
		t.Fatalf("DeleteAppRecord: %v", err)
	}
	if _, err := fs.GetAppRecord(ctx, "com.example.app"); !clara.Is(err, clara.KindNotFound) {
		t.Errorf("expected not_found after delete, got %v", err)
	}
}

func TestFileStoreGetAppsByStatus(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	records := []clara.AppTrustRecord{
		{Package: "a", Status: clara.StatusTrusted},
		{Package: "b", Status: clara.StatusQuarantined},
		{Package: "c", Status: clara.StatusQuarantined},
	}
	for _, r := range records {
		if err := fs.SaveAppRecord(ctx, r); err != nil {
			t.Fatalf("SaveAppRecord: %v", err)
		}
	}

	quarantined, err := fs.GetAppsByStatus(ctx, clara.StatusQuarantined)
	if err != nil {
		t.Fatalf("GetAppsByStatus: %v", err)
	}
	if len(quarantined) != 2 {
		t.Errorf("got %d quarantined records, want 2", len(quarantined))
	}
}

func TestFileStoreViolationLedgerAppendOnly(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := clara.ViolationRecord{
			Package:   "com.example.app",
			Kind:      clara.ViolationGalleryScan,
			Penalty:   clara.Penalty(clara.ViolationGalleryScan),
			Timestamp: time.Now(),
		}
		if err := fs.AppendViolation(ctx, v); err != nil {
			t.Fatalf("AppendViolation: %v", err)
		}
	}

	violations, err := fs.GetRecentViolations(ctx, "com.example.app", 0)
	if err != nil {
		t.Fatalf("GetRecentViolations: %v", err)
	}
	if len(violations) != 3 {
		t.Errorf("got %d violations, want 3", len(violations))
	}

	limited, err := fs.GetRecentViolations(ctx, "com.example.app", 2)
	if err != nil {
		t.Fatalf("GetRecentViolations limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d violations with limit 2, want 2", len(limited))
	}
}

func TestWriteJSONAtomicLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	if err := writeJSONAtomic(path, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("writeJSONAtomic: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file still present after atomic write")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("final file missing: %v", err)
	}
}

func TestFileStoreSettings(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	if _, ok, err := fs.GetSetting(ctx, "tunnel_provider"); err != nil || ok {
		t.Fatalf("expected missing setting, got ok=%v err=%v", ok, err)
	}

	if err := fs.SetSetting(ctx, "tunnel_provider", "none"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	v, ok, err := fs.GetSetting(ctx, "tunnel_provider")
	if err != nil || !ok || v != "none" {
		t.Errorf("got v=%q ok=%v err=%v, want none/true/nil", v, ok, err)
	}
}
