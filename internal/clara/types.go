// Package clara holds the domain types shared across the orchestrator's
// components: install sources, trust scoring enums, the event taxonomy,
// and the static/dynamic service descriptors. Nothing in this package
// does I/O.
package clara

import "time"

// InstallSource classifies where a package's APK came from.
type InstallSource string

const (
	SourcePlayStore   InstallSource = "play_store"
	SourceGalaxyStore InstallSource = "galaxy_store"
	SourceXiaomiStore InstallSource = "xiaomi_store"
	SourceHuaweiStore InstallSource = "huawei_store"
	SourceAmazonStore InstallSource = "amazon_store"
	SourceFDroid      InstallSource = "fdroid"
	SourceSideload    InstallSource = "sideload"
	SourceADB         InstallSource = "adb"
	SourceSystem      InstallSource = "system"
	SourceUnknown     InstallSource = "unknown"
)

// sourceProfile is the (initial score, max score) ceiling pair from
// spec.md §3's source table.
type sourceProfile struct {
	initial int
	max     int
}

var sourceProfiles = map[InstallSource]sourceProfile{
	SourcePlayStore:   {80, 95},
	SourceGalaxyStore: {75, 90},
	SourceXiaomiStore: {75, 90},
	SourceHuaweiStore: {75, 90},
	SourceAmazonStore: {70, 85},
	SourceFDroid:      {85, 95},
	SourceSideload:    {20, 70},
	SourceADB:         {30, 75},
	SourceSystem:      {100, 100},
	SourceUnknown:     {20, 60},
}

// InitialScore returns the starting score for apps installed from source.
// Unknown sources fall back to the unknown profile.
func InitialScore(source InstallSource) int {
	if p, ok := sourceProfiles[source]; ok {
		return p.initial
	}
	return sourceProfiles[SourceUnknown].initial
}

// MaxScore returns the score ceiling for apps installed from source.
func MaxScore(source InstallSource) int {
	if p, ok := sourceProfiles[source]; ok {
		return p.max
	}
	return sourceProfiles[SourceUnknown].max
}

// AppStatus is derived from score except for the sticky System status.
type AppStatus string

const (
	StatusTrusted     AppStatus = "trusted"
	StatusNormal      AppStatus = "normal"
	StatusSuspicious  AppStatus = "suspicious"
	StatusQuarantined AppStatus = "quarantined"
	StatusSystem      AppStatus = "system"
)

// DeriveStatus implements spec.md §3's score bands.
func DeriveStatus(score int) AppStatus {
	switch {
	case score >= 80:
		return StatusTrusted
	case score >= 50:
		return StatusNormal
	case score >= 20:
		return StatusSuspicious
	default:
		return StatusQuarantined
	}
}

// ViolationKind is the closed set of observable violations, each with a
// fixed penalty per spec.md §3.
type ViolationKind string

const (
	ViolationHiddenCamera        ViolationKind = "hidden_camera"
	ViolationHiddenMicrophone    ViolationKind = "hidden_microphone"
	ViolationAccessibilityAbuse  ViolationKind = "accessibility_abuse"
	ViolationGalleryScan         ViolationKind = "gallery_scan"
	ViolationFileScan            ViolationKind = "file_scan"
	ViolationContactExport       ViolationKind = "contact_export"
	ViolationSMSRead             ViolationKind = "sms_read"
	ViolationClipboardSnoop      ViolationKind = "clipboard_snoop"
	ViolationNotificationRead    ViolationKind = "notification_read"
	ViolationCallLogAccess       ViolationKind = "call_log_access"
	ViolationBackgroundLocation  ViolationKind = "background_location"
	ViolationBatteryDrain        ViolationKind = "battery_drain"
	ViolationDataUsageHigh       ViolationKind = "data_usage_high"
	ViolationOverlayUsage        ViolationKind = "overlay_usage"
	ViolationBootStart           ViolationKind = "boot_start"
)

var violationPenalties = map[ViolationKind]int{
	ViolationHiddenCamera:       -30,
	ViolationHiddenMicrophone:   -30,
	ViolationAccessibilityAbuse: -30,

	ViolationGalleryScan:   -20,
	ViolationFileScan:      -20,
	ViolationContactExport: -20,
	ViolationSMSRead:       -20,

	ViolationClipboardSnoop:   -15,
	ViolationNotificationRead: -15,
	ViolationCallLogAccess:    -15,

	ViolationBackgroundLocation: -10,
	ViolationBatteryDrain:       -10,
	ViolationDataUsageHigh:      -10,

	ViolationOverlayUsage: -5,
	ViolationBootStart:    -5,
}

// Penalty returns the fixed point deduction for kind. Unknown kinds
// return -5, matching original_source's PenaltyMatrix default case.
func Penalty(kind ViolationKind) int {
	if p, ok := violationPenalties[kind]; ok {
		return p
	}
	return -5
}

// AppTrustRecord is the per-package row maintained by the trust engine.
type AppTrustRecord struct {
	Package      string        `json:"package"`
	DisplayName  string        `json:"display_name"`
	InstallSrc   InstallSource `json:"install_source"`
	Score        int           `json:"score"`
	MaxScore     int           `json:"max_score"`
	Status       AppStatus     `json:"status"`
	FirstSeen    time.Time     `json:"first_seen"`
	LastViolation time.Time    `json:"last_violation"`
	LastGood     time.Time     `json:"last_good_behavior"`
	ViolationCount int         `json:"violation_count"`
	GoodStreakDays int         `json:"good_streak_days"`

	Whitelisted    bool `json:"whitelisted"`
	Quarantined    bool `json:"quarantined"`
	Suspended      bool `json:"suspended"`
	NetworkBlocked bool `json:"network_blocked"`

	// FuzzyLocation is set when the normal band is active and the
	// detector layer should substitute coarse location data.
	FuzzyLocation bool `json:"fuzzy_location_requested"`
}

// ViolationRecord is an append-only ledger entry.
type ViolationRecord struct {
	ID        int64         `json:"id"`
	Package   string        `json:"package"`
	Kind      ViolationKind `json:"kind"`
	Penalty   int           `json:"penalty"`
	Timestamp time.Time     `json:"timestamp"`
	Context   string        `json:"context,omitempty"`
	WasBlocked bool         `json:"was_blocked"`
}

// EventKind is the closed taxonomy of spec.md §6.2.
type EventKind string

const (
	EventSMSThreat            EventKind = "sms_threat"
	EventFileThreat           EventKind = "file_threat"
	EventNetworkThreat        EventKind = "network_threat"
	EventMessengerThreat      EventKind = "messenger_threat"
	EventKeyloggerDetected    EventKind = "keylogger_detected"
	EventPermissionAccess     EventKind = "permission_access"
	EventTrackerBlocked       EventKind = "tracker_blocked"
	EventAppLockTriggered     EventKind = "app_lock_triggered"
	EventRootDetectionAttempt EventKind = "root_detection_attempt"
	EventServiceStarted       EventKind = "service_started"
	EventServiceStopped       EventKind = "service_stopped"
	EventServiceError         EventKind = "service_error"
	EventConfigChanged        EventKind = "config_changed"
	EventQuarantineEntered    EventKind = "quarantine_entered"
	EventQuarantineReleased   EventKind = "quarantine_released"
	EventEnforcementFailed    EventKind = "enforcement_failed"
)

// MandatoryKinds bypass the event bus's bounded queue via the overflow
// list (spec.md §4.4).
var MandatoryKinds = map[EventKind]bool{
	EventServiceError:      true,
	EventQuarantineEntered: true,
}

// Event is the bus payload.
type Event struct {
	ID            uint64      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Kind          EventKind   `json:"kind"`
	SourceService string      `json:"source_service"`
	Target        string      `json:"target,omitempty"`
	Message       string      `json:"message,omitempty"`
	Data          interface{} `json:"data,omitempty"`
	Severity      int         `json:"severity"`
}

// ServiceDescriptor is static per-service configuration, loaded from the
// YAML roster (internal/config).
type ServiceDescriptor struct {
	Name           string `yaml:"name" json:"name"`
	BinaryPath     string `yaml:"binary_path" json:"binary_path"`
	SocketPath     string `yaml:"socket_path" json:"socket_path"`
	AutoStart      bool   `yaml:"auto_start" json:"auto_start"`
	AutoRestart    bool   `yaml:"auto_restart" json:"auto_restart"`
	RestartDelayMs int    `yaml:"restart_delay_ms" json:"restart_delay_ms"`
	MaxRestarts    int    `yaml:"max_restarts" json:"max_restarts"`
}

// ServiceStatus is the supervisor's lifecycle state for one service.
type ServiceStatus int

const (
	ServiceUnknown ServiceStatus = iota
	ServiceStarting
	ServiceRunning
	ServiceStopping
	ServiceStopped
	ServiceError
)

func (s ServiceStatus) String() string {
	switch s {
	case ServiceUnknown:
		return "unknown"
	case ServiceStarting:
		return "starting"
	case ServiceRunning:
		return "running"
	case ServiceStopping:
		return "stopping"
	case ServiceStopped:
		return "stopped"
	case ServiceError:
		return "error"
	default:
		return "invalid"
	}
}

// ServiceState is the dynamic per-service record the supervisor tracks.
type ServiceState struct {
	Descriptor    ServiceDescriptor `json:"-"`
	Name          string            `json:"name"`
	PID           int               `json:"pid"`
	Status        ServiceStatus     `json:"status"`
	StartTime     time.Time         `json:"start_time"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RestartCount  int               `json:"restart_count"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}
