package trust

import (
	"context"
	"strings"
	"testing"

	"github.com/Tinlera/Clara-Security/internal/capability"
	"github.com/Tinlera/Clara-Security/internal/clara"
)

func registerWithSource(t *testing.T, engine *Engine, cap *fakeCapability, pkg string, src clara.InstallSource) *clara.AppTrustRecord {
	t.Helper()
	cap.infos[pkg] = capability.PackageInfo{Package: pkg, InstallSource: src}
	rec, err := engine.RegisterApp(context.Background(), pkg)
	if err != nil {
		t.Fatalf("RegisterApp(%s): %v", pkg, err)
	}
	return rec
}

func TestQuarantineThenReleaseRestoresScoreDerivedStatus(t *testing.T) {
	engine, cap := newTestEngine(t)
	ctx := context.Background()
	pkg := "com.sideloaded.bad"
	registerWithSource(t, engine, cap, pkg, clara.SourceSideload)

	if err := engine.QuarantineApp(ctx, pkg); err != nil {
		t.Fatalf("QuarantineApp: %v", err)
	}
	rec, err := engine.GetAppInfo(ctx, pkg)
	if err != nil {
		t.Fatalf("GetAppInfo: %v", err)
	}
	if !rec.Quarantined || !rec.Suspended {
		t.Errorf("expected quarantined+suspended, got %+v", rec)
	}

	if err := engine.ReleaseFromQuarantine(ctx, pkg); err != nil {
		t.Fatalf("ReleaseFromQuarantine: %v", err)
	}
	rec, err = engine.GetAppInfo(ctx, pkg)
	if err != nil {
		t.Fatalf("GetAppInfo after release: %v", err)
	}
	if rec.Quarantined || rec.Suspended {
		t.Errorf("expected released, got %+v", rec)
	}
	// Score for a sideloaded app's initial score derives to suspicious,
	// not trusted — release must not silently promote it.
	if rec.Status != clara.DeriveStatus(rec.Score) {
		t.Errorf("status %s does not match score-derived status for score %d", rec.Status, rec.Score)
	}
}

func TestReleaseFromQuarantineRejectsNonQuarantinedApp(t *testing.T) {
	engine, cap := newTestEngine(t)
	ctx := context.Background()
	pkg := "com.example.normal"
	registerWithSource(t, engine, cap, pkg, clara.SourceAmazonStore)

	err := engine.ReleaseFromQuarantine(ctx, pkg)
	if !clara.Is(err, clara.KindInvalidState) {
		t.Errorf("expected invalid_state, got %v", err)
	}
}

func TestEnforceByScoreNormalBandFuzzesLocation(t *testing.T) {
	engine, cap := newTestEngine(t)
	ctx := context.Background()
	pkg := "com.example.normal"
	registerWithSource(t, engine, cap, pkg, clara.SourceAmazonStore) // initial score 70 -> normal

	if err := engine.EnforceByScore(ctx, pkg); err != nil {
		t.Fatalf("EnforceByScore: %v", err)
	}

	rec, _ := engine.GetAppInfo(ctx, pkg)
	if !rec.FuzzyLocation {
		t.Errorf("expected fuzzy location requested for normal band")
	}

	found := false
	for _, a := range cap.actions {
		if strings.Contains(a, "revoke:"+pkg+":android.permission.ACCESS_FINE_LOCATION") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ACCESS_FINE_LOCATION revoke, actions=%v", cap.actions)
	}
}

func indexOfAction(actions []string, action string) int {
	for i, a := range actions {
		if a == action {
			return i
		}
	}
	return -1
}

func TestEnforceByScoreQuarantineBandForceStopsAndQuarantines(t *testing.T) {
	engine, cap := newTestEngine(t)
	ctx := context.Background()
	pkg := "com.sideloaded.bad"
	registerWithSource(t, engine, cap, pkg, clara.SourceSideload) // initial score 20 -> suspicious band

	for i := 0; i < 3; i++ {
		if _, err := engine.RecordViolation(ctx, pkg, clara.ViolationHiddenCamera, "escalate"); err != nil {
			t.Fatalf("RecordViolation: %v", err)
		}
	}

	rec, _ := engine.GetAppInfo(ctx, pkg)
	if rec.Status != clara.StatusQuarantined {
		t.Fatalf("expected quarantined after repeated violations, got %s (score %d)", rec.Status, rec.Score)
	}

	if err := engine.EnforceByScore(ctx, pkg); err != nil {
		t.Fatalf("EnforceByScore: %v", err)
	}
	rec, _ = engine.GetAppInfo(ctx, pkg)
	if !rec.Quarantined {
		t.Errorf("expected quarantined flag set by enforcement")
	}
	if !rec.Suspended || !rec.NetworkBlocked {
		t.Errorf("expected suspended and network-blocked flags set on the record, got %+v", rec)
	}

	// P4 requires suspend(pkg,true) before net_block(uid,true) on every
	// quarantine entry, including the one driven off the violation path.
	suspendIdx := indexOfAction(cap.actions, "suspend:"+pkg)
	blockIdx := indexOfAction(cap.actions, "block-net:"+pkg)
	if suspendIdx == -1 || blockIdx == -1 {
		t.Fatalf("expected both suspend and block-net actions against the capability layer, got %v", cap.actions)
	}
	if suspendIdx > blockIdx {
		t.Errorf("expected suspend before block-net, got order %v", cap.actions)
	}
	if indexOfAction(cap.actions, "force-stop:"+pkg) == -1 {
		t.Errorf("expected a force-stop action against the capability layer, got %v", cap.actions)
	}
}

func TestOverrideCanSuppressEnforcementWithoutChangingScore(t *testing.T) {
	engine, cap := newTestEngine(t)
	ctx := context.Background()
	pkg := "com.example.normal"
	registerWithSource(t, engine, cap, pkg, clara.SourceAmazonStore)

	before, _ := engine.GetAppInfo(ctx, pkg)

	const denyAllModule = `package override

allow = false`
	if err := engine.override.Load("override", denyAllModule); err != nil {
		t.Fatalf("Load override: %v", err)
	}

	if err := engine.EnforceByScore(ctx, pkg); err != nil {
		t.Fatalf("EnforceByScore: %v", err)
	}

	after, _ := engine.GetAppInfo(ctx, pkg)
	if after.Score != before.Score {
		t.Errorf("override must never change persisted score: %d -> %d", before.Score, after.Score)
	}
	if after.FuzzyLocation {
		t.Errorf("override should have suppressed the fuzzy-location side effect")
	}
}
