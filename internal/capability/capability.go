// Package capability is the sole boundary between the trust engine and
// the underlying OS: every privileged action (querying package
// metadata, suspending an app, revoking a permission, blocking
// network) goes through the Capability interface so the rest of the
// daemon never shells out directly.
package capability

import (
	"context"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// PackageInfo is what the capability layer can learn about an
// installed package without enforcing anything.
type PackageInfo struct {
	Package       string
	InstallSource clara.InstallSource
	UID           int
	IsSystemApp   bool
}

// Capability is implemented per-platform. The only production
// implementation is Android (android.go); tests use a fake.
type Capability interface {
	// Inspect resolves install-source and uid metadata for pkg.
	Inspect(ctx context.Context, pkg string) (PackageInfo, error)

	// ListInstalled returns every third-party package currently
	// installed, for CL's initial-scan operation.
	ListInstalled(ctx context.Context) ([]string, error)

	SuspendApp(ctx context.Context, pkg string) error
	UnsuspendApp(ctx context.Context, pkg string) error
	ForceStopApp(ctx context.Context, pkg string) error
	RevokePermission(ctx context.Context, pkg, permission string) error
	GrantPermission(ctx context.Context, pkg, permission string) error
	BlockNetwork(ctx context.Context, pkg string) error
	UnblockNetwork(ctx context.Context, pkg string) error
}
