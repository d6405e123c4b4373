package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// serviceRoster is the on-disk shape of the YAML service roster file.
type serviceRoster struct {
	Services []clara.ServiceDescriptor `yaml:"services"`
}

// LoadServiceRoster reads the static, fixed set of ServiceDescriptors
// the supervisor manages, replacing original_source's hardcoded
// service_definitions_ vector with an externalized YAML file per
// spec.md §3.
func LoadServiceRoster(path string) ([]clara.ServiceDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "LoadServiceRoster", "read roster", err)
	}

	var roster serviceRoster
	if err := yaml.Unmarshal(raw, &roster); err != nil {
		return nil, clara.WrapError(clara.KindInternal, "LoadServiceRoster", "parse roster", err)
	}

	for i := range roster.Services {
		applyServiceDefaults(&roster.Services[i])
	}
	return roster.Services, nil
}

// applyServiceDefaults fills in spec.md §3's defaults for fields the
// roster author left zero-valued.
func applyServiceDefaults(d *clara.ServiceDescriptor) {
	if d.RestartDelayMs == 0 {
		d.RestartDelayMs = 2000
	}
	if d.MaxRestarts == 0 {
		d.MaxRestarts = 5
	}
}

// DefaultServiceRoster is the standard three-worker roster
// (security_core, privacy_core, app_manager) used when no roster file
// is present, matching original_source's compiled-in defaults.
func DefaultServiceRoster() []clara.ServiceDescriptor {
	roster := []clara.ServiceDescriptor{
		{
			Name:        "security_core",
			BinaryPath:  "/system/bin/clara-security-core",
			SocketPath:  "/data/clara/sockets/security_core.sock",
			AutoStart:   true,
			AutoRestart: true,
		},
		{
			Name:        "privacy_core",
			BinaryPath:  "/system/bin/clara-privacy-core",
			SocketPath:  "/data/clara/sockets/privacy_core.sock",
			AutoStart:   true,
			AutoRestart: true,
		},
		{
			Name:        "app_manager",
			BinaryPath:  "/system/bin/clara-app-manager",
			SocketPath:  "/data/clara/sockets/app_manager.sock",
			AutoStart:   true,
			AutoRestart: true,
		},
	}
	for i := range roster {
		applyServiceDefaults(&roster[i])
	}
	return roster
}
