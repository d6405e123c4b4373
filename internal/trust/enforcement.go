package trust

import (
	"context"
	"log"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// QuarantineApp stops the app and flags it quarantined. Grounded on
// original_source's quarantineApp (forceStop + mark quarantined).
func (e *Engine) QuarantineApp(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	return e.quarantineLocked(ctx, rec)
}

// quarantineLocked assumes the caller already holds pkg's lock. It
// drives the quarantined-band side effects in spec.md §4.3's order —
// suspend, then net_block, then force_stop — and only sets a flag once
// its capability call actually succeeds (I6): a failed call is logged
// and reported as service_event{enforcement_failed} but never rolls
// back the score update already persisted by the caller.
func (e *Engine) quarantineLocked(ctx context.Context, rec *clara.AppTrustRecord) error {
	if err := e.cap.SuspendApp(ctx, rec.Package); err != nil {
		log.Printf("[trust] suspend during quarantine failed for %s: %v", rec.Package, err)
		e.publishEnforcementFailed(rec.Package, "suspend")
	} else {
		rec.Suspended = true
	}

	if err := e.cap.BlockNetwork(ctx, rec.Package); err != nil {
		log.Printf("[trust] net-block during quarantine failed for %s: %v", rec.Package, err)
		e.publishEnforcementFailed(rec.Package, "net_block")
	} else {
		rec.NetworkBlocked = true
	}

	if err := e.cap.ForceStopApp(ctx, rec.Package); err != nil {
		log.Printf("[trust] force-stop during quarantine failed for %s: %v", rec.Package, err)
		e.publishEnforcementFailed(rec.Package, "force_stop")
	}

	rec.Quarantined = true
	if err := e.st.SaveAppRecord(ctx, *rec); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(clara.Event{
			Kind:          clara.EventQuarantineEntered,
			SourceService: "trust-engine",
			Target:        rec.Package,
			Severity:      8,
		})
	}
	return nil
}

func (e *Engine) publishEnforcementFailed(pkg, action string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(clara.Event{
		Kind:          clara.EventEnforcementFailed,
		SourceService: "trust-engine",
		Target:        pkg,
		Message:       action,
		Severity:      6,
	})
}

// releaseEnforcementLocked runs the inverse of quarantineLocked's
// capability calls in spec.md §4.3's required opposite order —
// net_block before suspend — clearing each flag only once its call
// succeeds, and clears Quarantined unconditionally since the record is
// leaving the band regardless. Assumes the caller holds pkg's lock and
// will persist rec; used by both ReleaseFromQuarantine and
// WhitelistApp's quarantine short-circuit.
func (e *Engine) releaseEnforcementLocked(ctx context.Context, rec *clara.AppTrustRecord) {
	if err := e.cap.UnblockNetwork(ctx, rec.Package); err != nil {
		log.Printf("[trust] net-unblock during release failed for %s: %v", rec.Package, err)
		e.publishEnforcementFailed(rec.Package, "net_unblock")
	} else {
		rec.NetworkBlocked = false
	}
	if err := e.cap.UnsuspendApp(ctx, rec.Package); err != nil {
		log.Printf("[trust] unsuspend during release failed for %s: %v", rec.Package, err)
		e.publishEnforcementFailed(rec.Package, "unsuspend")
	} else {
		rec.Suspended = false
	}
	rec.Quarantined = false
}

// ReleaseFromQuarantine is the inverse of QuarantineApp: clearing the
// quarantine flag does NOT raise the score — status stays whatever the
// score independently derives to, so a released app re-enters the band
// its current score actually earns (spec.md's inverse-ordering
// invariant for quarantine/release).
func (e *Engine) ReleaseFromQuarantine(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	if !rec.Quarantined {
		return clara.NewError(clara.KindInvalidState, "ReleaseFromQuarantine", pkg+" is not quarantined")
	}

	e.releaseEnforcementLocked(ctx, rec)
	rec.Status = clara.DeriveStatus(rec.Score)

	if err := e.st.SaveAppRecord(ctx, *rec); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(clara.Event{
			Kind:          clara.EventQuarantineReleased,
			SourceService: "trust-engine",
			Target:        pkg,
			Severity:      3,
		})
	}
	return nil
}

func (e *Engine) SuspendApp(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	if err := e.cap.SuspendApp(ctx, pkg); err != nil {
		return err
	}
	rec.Suspended = true
	return e.st.SaveAppRecord(ctx, *rec)
}

func (e *Engine) UnsuspendApp(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	if err := e.cap.UnsuspendApp(ctx, pkg); err != nil {
		return err
	}
	rec.Suspended = false
	return e.st.SaveAppRecord(ctx, *rec)
}

func (e *Engine) ForceStopApp(ctx context.Context, pkg string) error {
	return e.cap.ForceStopApp(ctx, pkg)
}

func (e *Engine) RevokePermission(ctx context.Context, pkg, permission string) error {
	return e.cap.RevokePermission(ctx, pkg, permission)
}

func (e *Engine) BlockNetwork(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	if err := e.cap.BlockNetwork(ctx, pkg); err != nil {
		return err
	}
	rec.NetworkBlocked = true
	return e.st.SaveAppRecord(ctx, *rec)
}

func (e *Engine) UnblockNetwork(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	if err := e.cap.UnblockNetwork(ctx, pkg); err != nil {
		return err
	}
	rec.NetworkBlocked = false
	return e.st.SaveAppRecord(ctx, *rec)
}

// SendFuzzyLocation flags pkg to receive the coarse-location
// substitute instead of its real fix, per FuzzyLocationConfig.
func (e *Engine) SendFuzzyLocation(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	rec.FuzzyLocation = e.fuzzy.Enabled
	return e.st.SaveAppRecord(ctx, *rec)
}

func (e *Engine) FuzzyConfig() FuzzyLocationConfig { return e.fuzzy }

func (e *Engine) SetFuzzyConfig(cfg FuzzyLocationConfig) { e.fuzzy = cfg }

// EnforceByScore applies the score-banded enforcement policy from
// spec.md §4.3 / original_source's enforceByScore: trusted apps are
// left alone, normal apps get fuzzed location plus a fine-location
// revoke, suspicious apps lose camera/mic/contacts, and quarantined
// apps are quarantined and force-stopped. An operator-loaded Rego
// override may suppress the side effects for this single call without
// ever touching the persisted score (see OverrideEngine). This is the
// public, lock-acquiring entry point; RecordViolation calls
// enforceLocked (and OnInstall calls quarantineLocked) directly because
// they already hold pkg's record lock when the decision needs to be
// made.
func (e *Engine) EnforceByScore(ctx context.Context, pkg string) error {
	lock := e.lockFor(pkg)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.st.GetAppRecord(ctx, pkg)
	if err != nil {
		return err
	}
	return e.enforceLocked(ctx, rec)
}

// enforceLocked assumes the caller already holds pkg's record lock and
// that rec is the record to enforce against. It never calls back into
// a public, lock-acquiring method on the same package to avoid
// self-deadlock.
func (e *Engine) enforceLocked(ctx context.Context, rec *clara.AppTrustRecord) error {
	if rec.Whitelisted || rec.Status == clara.StatusSystem {
		return nil
	}

	decision := decisionForStatus(rec.Status)
	if e.override != nil {
		allow, err := e.override.Evaluate(ctx, *rec, decision)
		if err != nil {
			log.Printf("[trust] override evaluation failed for %s: %v", rec.Package, err)
		} else if !allow {
			log.Printf("[trust] enforcement for %s suppressed by operator override", rec.Package)
			return nil
		}
	}

	switch decision {
	case decisionNone:
		return nil
	case decisionFuzzLocationAndRevokeFineLocation:
		rec.FuzzyLocation = e.fuzzy.Enabled
		if err := e.st.SaveAppRecord(ctx, *rec); err != nil {
			return err
		}
		return e.cap.RevokePermission(ctx, rec.Package, "android.permission.ACCESS_FINE_LOCATION")
	case decisionRevokeSensitivePermissions:
		for _, perm := range []string{
			"android.permission.CAMERA",
			"android.permission.RECORD_AUDIO",
			"android.permission.READ_CONTACTS",
		} {
			if err := e.cap.RevokePermission(ctx, rec.Package, perm); err != nil {
				log.Printf("[trust] revoke %s for %s failed: %v", perm, rec.Package, err)
			}
		}
		return nil
	case decisionQuarantineAndStop:
		return e.quarantineLocked(ctx, rec)
	default:
		return nil
	}
}

type enforcementDecision int

const (
	decisionNone enforcementDecision = iota
	decisionFuzzLocationAndRevokeFineLocation
	decisionRevokeSensitivePermissions
	decisionQuarantineAndStop
)

func decisionForStatus(status clara.AppStatus) enforcementDecision {
	switch status {
	case clara.StatusTrusted, clara.StatusSystem:
		return decisionNone
	case clara.StatusNormal:
		return decisionFuzzLocationAndRevokeFineLocation
	case clara.StatusSuspicious:
		return decisionRevokeSensitivePermissions
	case clara.StatusQuarantined:
		return decisionQuarantineAndStop
	default:
		return decisionNone
	}
}
