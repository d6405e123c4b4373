package capability

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// storePackages maps a known installer package name to the
// InstallSource it represents. Grounded on original_source's
// STORE_PACKAGES table (trust_engine.cpp).
var storePackages = map[string]clara.InstallSource{
	"com.android.vending":          clara.SourcePlayStore,
	"com.sec.android.app.samsungapps": clara.SourceGalaxyStore,
	"com.xiaomi.mipicks":           clara.SourceXiaomiStore,
	"com.xiaomi.market":            clara.SourceXiaomiStore,
	"com.huawei.appmarket":         clara.SourceHuaweiStore,
	"com.amazon.venezia":           clara.SourceAmazonStore,
	"org.fdroid.fdroid":            clara.SourceFDroid,
}

var (
	installerRe = regexp.MustCompile(`installerPackageName=(\S*)`)
	userIDRe    = regexp.MustCompile(`userId=(\d+)`)
	systemPathRe = regexp.MustCompile(`/(system|product|vendor)/`)
	codePathRe  = regexp.MustCompile(`codePath=(\S*)`)
)

// AndroidCapability talks to a real device's pm/am/iptables toolchain
// via argv-based exec.CommandContext. It never builds a shell string —
// original_source's executeCommand concatenated strings into popen(),
// which is exactly the anti-pattern this avoids.
type AndroidCapability struct {
	// Runner defaults to running the real binaries; tests substitute a
	// fake that records argv without executing anything.
	Runner CommandRunner
}

// CommandRunner executes one external command and returns combined
// stdout. Swappable for tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner is the production CommandRunner.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out.Bytes(), nil
}

// NewAndroidCapability builds a capability layer backed by the real pm
// and am binaries on PATH.
func NewAndroidCapability() *AndroidCapability {
	return &AndroidCapability{Runner: execRunner{}}
}

func (a *AndroidCapability) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r := a.Runner
	if r == nil {
		r = execRunner{}
	}
	return r.Run(ctx, name, args...)
}

// Inspect shells out to `pm dump <pkg>` and classifies the package's
// install source: a known store installer => that store; any other
// non-empty installer => unknown; an empty/"null" installer => system
// if codePath is under /system/, /product/ or /vendor/, else sideload.
func (a *AndroidCapability) Inspect(ctx context.Context, pkg string) (PackageInfo, error) {
	out, err := a.run(ctx, "pm", "dump", pkg)
	if err != nil {
		return PackageInfo{}, clara.WrapError(clara.KindCapabilityUnavail, "Inspect", "pm dump failed", err)
	}
	dump := string(out)

	info := PackageInfo{Package: pkg}

	if m := userIDRe.FindStringSubmatch(dump); m != nil {
		if uid, convErr := strconv.Atoi(m[1]); convErr == nil {
			info.UID = uid
		}
	}

	installer := ""
	if m := installerRe.FindStringSubmatch(dump); m != nil {
		installer = strings.TrimSpace(m[1])
	}

	switch {
	case installer != "" && installer != "null":
		if src, ok := storePackages[installer]; ok {
			info.InstallSource = src
		} else {
			info.InstallSource = clara.SourceUnknown
		}
	case installer == "" || installer == "null":
		if m := codePathRe.FindStringSubmatch(dump); m != nil && systemPathRe.MatchString(m[1]) {
			info.InstallSource = clara.SourceSystem
			info.IsSystemApp = true
		} else {
			info.InstallSource = clara.SourceSideload
		}
	default:
		info.InstallSource = clara.SourceUnknown
	}

	return info, nil
}

// ListInstalled shells to `pm list packages -3` (third-party only),
// matching original_source's initial-scan package enumeration.
func (a *AndroidCapability) ListInstalled(ctx context.Context) ([]string, error) {
	out, err := a.run(ctx, "pm", "list", "packages", "-3")
	if err != nil {
		return nil, clara.WrapError(clara.KindCapabilityUnavail, "ListInstalled", "pm list packages failed", err)
	}
	var pkgs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package:") {
			pkgs = append(pkgs, strings.TrimPrefix(line, "package:"))
		}
	}
	return pkgs, nil
}

func (a *AndroidCapability) SuspendApp(ctx context.Context, pkg string) error {
	_, err := a.run(ctx, "pm", "suspend", pkg)
	return wrapEnforce(err, "SuspendApp", pkg)
}

func (a *AndroidCapability) UnsuspendApp(ctx context.Context, pkg string) error {
	_, err := a.run(ctx, "pm", "unsuspend", pkg)
	return wrapEnforce(err, "UnsuspendApp", pkg)
}

func (a *AndroidCapability) ForceStopApp(ctx context.Context, pkg string) error {
	_, err := a.run(ctx, "am", "force-stop", pkg)
	return wrapEnforce(err, "ForceStopApp", pkg)
}

func (a *AndroidCapability) RevokePermission(ctx context.Context, pkg, permission string) error {
	_, err := a.run(ctx, "pm", "revoke", pkg, permission)
	return wrapEnforce(err, "RevokePermission", pkg)
}

func (a *AndroidCapability) GrantPermission(ctx context.Context, pkg, permission string) error {
	_, err := a.run(ctx, "pm", "grant", pkg, permission)
	return wrapEnforce(err, "GrantPermission", pkg)
}

// BlockNetwork and UnblockNetwork use iptables owner-match rules keyed
// by the package's uid, following original_source's blockNetwork.
func (a *AndroidCapability) BlockNetwork(ctx context.Context, pkg string) error {
	info, err := a.Inspect(ctx, pkg)
	if err != nil {
		return err
	}
	_, err = a.run(ctx, "iptables", "-A", "OUTPUT", "-m", "owner", "--uid-owner", strconv.Itoa(info.UID), "-j", "REJECT")
	return wrapEnforce(err, "BlockNetwork", pkg)
}

func (a *AndroidCapability) UnblockNetwork(ctx context.Context, pkg string) error {
	info, err := a.Inspect(ctx, pkg)
	if err != nil {
		return err
	}
	_, err = a.run(ctx, "iptables", "-D", "OUTPUT", "-m", "owner", "--uid-owner", strconv.Itoa(info.UID), "-j", "REJECT")
	return wrapEnforce(err, "UnblockNetwork", pkg)
}

func wrapEnforce(err error, op, pkg string) error {
	if err == nil {
		return nil
	}
	return clara.WrapError(clara.KindCapabilityUnavail, op, fmt.Sprintf("enforcement action failed for %s", pkg), err)
}
