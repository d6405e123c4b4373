// Package store is the persistent-state boundary (spec.md §4.2's PS):
// app trust records, the violation ledger, service supervisor state,
// and runtime settings. Two backends implement Store: FileStore (the
// default, crash-atomic JSON-on-disk layout of spec.md §6.3) and
// PostgresStore (an alternative for multi-reader deployments).
package store

import (
	"context"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// Store is the full persistence surface the trust engine and
// supervisor depend on.
type Store interface {
	SaveAppRecord(ctx context.Context, rec clara.AppTrustRecord) error
	GetAppRecord(ctx context.Context, pkg string) (*clara.AppTrustRecord, error)
	GetAllAppRecords(ctx context.Context) ([]clara.AppTrustRecord, error)
	GetAppsByStatus(ctx context.Context, status clara.AppStatus) ([]clara.AppTrustRecord, error)
	DeleteAppRecord(ctx context.Context, pkg string) error

	AppendViolation(ctx context.Context, v clara.ViolationRecord) error
	GetRecentViolations(ctx context.Context, pkg string, limit int) ([]clara.ViolationRecord, error)

	SaveServiceState(ctx context.Context, st clara.ServiceState) error
	GetServiceState(ctx context.Context, name string) (*clara.ServiceState, error)
	GetAllServiceStates(ctx context.Context) ([]clara.ServiceState, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	SaveRegoOverride(ctx context.Context, name, source string) error
	GetRegoOverrides(ctx context.Context) (map[string]string, error)
	DeleteRegoOverride(ctx context.Context, name string) error

	Close() error
}
