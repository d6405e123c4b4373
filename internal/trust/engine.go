// Package trust implements the trust engine (TE): per-package score
// bookkeeping, status derivation, violation recording, and the
// score-banded enforcement policy. Grounded on
// original_source/daemon/trust_engine/{include,src}/trust_engine.cpp —
// the score tables, violation penalties, and enforcement bands are
// carried over exactly; the C++ singleton class becomes an explicitly
// constructed *Engine with no package-level state.
package trust

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Tinlera/Clara-Security/internal/capability"
	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/store"
)

// Engine is the trust engine. Lock ordering: callers holding the
// supervisor's lock may call into Engine, but Engine never calls back
// into the supervisor — this keeps the PS > TE > SS > EB order from
// spec.md §5 acyclic.
type Engine struct {
	st  store.Store
	cap capability.Capability
	bus *eventbus.Bus

	override *OverrideEngine
	fuzzy    FuzzyLocationConfig

	// recordLocks serializes concurrent mutation of the same package's
	// record (e.g. a violation racing a daily tick) without taking a
	// single engine-wide lock, so unrelated packages never contend.
	mu          sync.Mutex
	recordLocks map[string]*sync.Mutex
}

// NewEngine builds a trust engine over st and cap, publishing
// lifecycle/violation events on bus.
func NewEngine(st store.Store, cap capability.Capability, bus *eventbus.Bus) *Engine {
	return &Engine{
		st:          st,
		cap:         cap,
		bus:         bus,
		override:    NewOverrideEngine(),
		fuzzy:       DefaultFuzzyLocationConfig(),
		recordLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(pkg string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.recordLocks[pkg]
	if !ok {
		l = &sync.Mutex{}
		e.recordLocks[pkg] = l
	}
	return l
}

// RegisterApp creates a new AppTrustRecord for pkg if one doesn't
// already exist, resolving its install source and initial score via
// the capability layer. Matches original_source's registerApp +
// onPackageAdded.
func (e *Engine) RegisterApp(ctx context.Context, pkg string) (*clara.AppTrustRecord, error) {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := e.st.GetAppRecord(ctx, pkg); err == nil {
		return existing, nil
	}

	info, err := e.cap.Inspect(ctx, pkg)
	if err != nil {
		return nil, clara.WrapError(clara.KindCapabilityUnavail, "RegisterApp", "inspect package", err)
	}

	score := clara.InitialScore(info.InstallSource)
	status := clara.DeriveStatus(score)
	if info.IsSystemApp {
		status = clara.StatusSystem
		score = clara.MaxScore(clara.SourceSystem)
	}

	rec := clara.AppTrustRecord{
		Package:    pkg,
		InstallSrc: info.InstallSource,
		Score:      score,
		MaxScore:   clara.MaxScore(info.InstallSource),
		Status:     status,
		FirstSeen:  time.Now(),
	}

	if err := e.st.SaveAppRecord(ctx, rec); err != nil {
		return nil, err
	}
	log.Printf("[trust] registered %s source=%s score=%d status=%s", pkg, info.InstallSource, score, status)
	return &rec, nil
}

// OnPackageAdded is the install-broadcast entry point used by
// original_source's package-added broadcast receiver, wired to §4.3's
// on_install admission control below.
func (e *Engine) OnPackageAdded(ctx context.Context, pkg string) error {
	_, err := e.OnInstall(ctx, pkg)
	return err
}

// OnInstall implements spec.md §4.3's on_install: register the
// package, then, if its install source is sideload/adb/unknown and it
// isn't whitelisted, force it straight to quarantined and run the
// quarantine enforcement step — regardless of the score that source
// would otherwise derive (a sideload app starts at score 20, which
// DeriveStatus alone only calls "suspicious"). Returns the resulting
// status.
func (e *Engine) OnInstall(ctx context.Context, pkg string) (clara.AppStatus, error) {
	rec, err := e.RegisterApp(ctx, pkg)
	if err != nil {
		return "", err
	}
	if rec.Whitelisted || !requiresAdmissionQuarantine(rec.InstallSrc) {
		return rec.Status, nil
	}

	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	current, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return "", err
	}
	if current.Whitelisted || current.Quarantined {
		return current.Status, nil
	}

	current.Status = clara.StatusQuarantined
	if err := e.quarantineLocked(ctx, current); err != nil {
		return "", err
	}
	log.Printf("[trust] %s admitted from %s, forced to quarantined", pkg, rec.InstallSrc)
	return clara.StatusQuarantined, nil
}

// requiresAdmissionQuarantine reports whether source triggers §4.3's
// on_install admission control.
func requiresAdmissionQuarantine(source clara.InstallSource) bool {
	switch source {
	case clara.SourceSideload, clara.SourceADB, clara.SourceUnknown:
		return true
	default:
		return false
	}
}

func (e *Engine) GetAppInfo(ctx context.Context, pkg string) (*clara.AppTrustRecord, error) {
	return e.st.GetAppRecord(ctx, pkg)
}

func (e *Engine) GetAllApps(ctx context.Context) ([]clara.AppTrustRecord, error) {
	return e.st.GetAllAppRecords(ctx)
}

func (e *Engine) GetAppsByStatus(ctx context.Context, status clara.AppStatus) ([]clara.AppTrustRecord, error) {
	return e.st.GetAppsByStatus(ctx, status)
}

func (e *Engine) GetQuarantinedApps(ctx context.Context) ([]clara.AppTrustRecord, error) {
	return e.st.GetAppsByStatus(ctx, clara.StatusQuarantined)
}

func (e *Engine) GetScore(ctx context.Context, pkg string) (int, error) {
	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}

func (e *Engine) GetStatus(ctx context.Context, pkg string) (clara.AppStatus, error) {
	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// WhitelistApp marks pkg trusted regardless of score, mirroring
// original_source's whitelistApp. Per spec.md §4.3's whitelist(pkg,on):
// if the record is currently quarantined, this performs release first
// (net_block off, then suspend off) before clearing the flags.
func (e *Engine) WhitelistApp(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	if rec.Quarantined {
		e.releaseEnforcementLocked(ctx, rec)
		if e.bus != nil {
			e.bus.Publish(clara.Event{
				Kind:          clara.EventQuarantineReleased,
				SourceService: "trust-engine",
				Target:        pkg,
				Severity:      3,
			})
		}
	}
	rec.Whitelisted = true
	rec.Status = clara.StatusTrusted
	return e.st.SaveAppRecord(ctx, *rec)
}

func (e *Engine) UnwhitelistApp(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	rec.Whitelisted = false
	rec.Status = clara.DeriveStatus(rec.Score)
	return e.st.SaveAppRecord(ctx, *rec)
}

// RecordViolation applies kind's fixed penalty to pkg's score, clamps
// it to [0, MaxScore], appends a ledger entry, and re-derives status.
// If the app is whitelisted, the violation is still ledgered (for
// audit) but the score and status are left untouched — matching
// original_source's whitelist short-circuit in recordViolation.
func (e *Engine) RecordViolation(ctx context.Context, pkg string, kind clara.ViolationKind, detail string) (*clara.AppTrustRecord, error) {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return nil, err
	}

	penalty := clara.Penalty(kind)
	wasBlocked := rec.Whitelisted || rec.Status == clara.StatusSystem

	if !wasBlocked {
		rec.Score = clamp(rec.Score+penalty, 0, rec.MaxScore)
		rec.Status = clara.DeriveStatus(rec.Score)
	}
	rec.LastViolation = time.Now()
	rec.ViolationCount++
	rec.GoodStreakDays = 0

	if err := e.st.AppendViolation(ctx, clara.ViolationRecord{
		Package:    pkg,
		Kind:       kind,
		Penalty:    penalty,
		Timestamp:  time.Now(),
		Context:    detail,
		WasBlocked: wasBlocked,
	}); err != nil {
		return nil, err
	}

	if err := e.st.SaveAppRecord(ctx, *rec); err != nil {
		return nil, err
	}

	if e.bus != nil {
		severity := -penalty
		e.bus.Publish(clara.Event{
			Kind:          eventKindForViolation(kind),
			SourceService: "trust-engine",
			Target:        pkg,
			Message:       string(kind),
			Severity:      severity,
		})
	}

	if !wasBlocked {
		if err := e.enforceLocked(ctx, rec); err != nil {
			log.Printf("[trust] enforce failed for %s: %v", pkg, err)
		}
	}

	return rec, nil
}

func eventKindForViolation(kind clara.ViolationKind) clara.EventKind {
	switch kind {
	case clara.ViolationSMSRead:
		return clara.EventSMSThreat
	case clara.ViolationFileScan, clara.ViolationGalleryScan:
		return clara.EventFileThreat
	case clara.ViolationDataUsageHigh, clara.ViolationBackgroundLocation:
		return clara.EventNetworkThreat
	default:
		return clara.EventPermissionAccess
	}
}

// RewardGoodBehavior nudges score upward, capped at MaxScore, matching
// original_source's rewardGoodBehavior.
func (e *Engine) RewardGoodBehavior(ctx context.Context, pkg string, points int) (*clara.AppTrustRecord, error) {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return nil, err
	}
	rec.Score = clamp(rec.Score+points, 0, rec.MaxScore)
	rec.Status = clara.DeriveStatus(rec.Score)
	rec.LastGood = time.Now()
	rec.GoodStreakDays++

	if err := e.st.SaveAppRecord(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DailyBehaviorCheck runs the periodic score-maintenance pass over
// every app: reward a clean day, re-derive status. Each record is
// still protected by its own per-package lock, so a violation
// arriving concurrently on another goroutine for the same package
// cannot interleave with this read-modify-write.
func (e *Engine) DailyBehaviorCheck(ctx context.Context) error {
	apps, err := e.st.GetAllAppRecords(ctx)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if app.Status == clara.StatusSystem || app.Whitelisted {
			continue
		}
		if time.Since(app.LastViolation) >= 24*time.Hour {
			if _, err := e.RewardGoodBehavior(ctx, app.Package, 2); err != nil {
				log.Printf("[trust] daily check reward failed for %s: %v", app.Package, err)
			}
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
