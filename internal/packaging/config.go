// Package packaging installs uplinkd as a systemd service on bare-metal hosts.
package packaging

import (
	"fmt"

	"github.com/plexsphere/uplinkd/internal/route"
)

const (
	// DefaultBinaryPath is where the uplinkd binary is installed.
	DefaultBinaryPath = "/usr/local/bin/uplinkd"

	// DefaultConfigDir holds config.yaml.
	DefaultConfigDir = "/etc/uplinkd"

	// DefaultDataDir holds the status snapshot.
	DefaultDataDir = "/var/lib/uplinkd"

	// DefaultServiceName is the systemd unit name without suffix.
	DefaultServiceName = "uplinkd"

	// DefaultUnitFilePath is where the unit file is written.
	DefaultUnitFilePath = "/etc/systemd/system/uplinkd.service"
)

// InstallConfig describes where and how uplinkd is installed. Zero fields
// take the Default* values above.
type InstallConfig struct {
	BinaryPath   string
	ConfigDir    string
	DataDir      string // the only path the service may write
	UnitFilePath string
	ServiceName  string

	// Backend goes into a freshly written config and decides whether the
	// unit is ordered after frr.service.
	Backend string

	// Start enables and starts the service once installed.
	Start bool
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *InstallConfig) ApplyDefaults() {
	for _, f := range []struct {
		field *string
		def   string
	}{
		{&c.BinaryPath, DefaultBinaryPath},
		{&c.ConfigDir, DefaultConfigDir},
		{&c.DataDir, DefaultDataDir},
		{&c.UnitFilePath, DefaultUnitFilePath},
		{&c.ServiceName, DefaultServiceName},
		{&c.Backend, route.KindFRR},
	} {
		if *f.field == "" {
			*f.field = f.def
		}
	}
}

// Validate checks that every path is set and the backend is known.
func (c *InstallConfig) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"binary path", c.BinaryPath},
		{"config dir", c.ConfigDir},
		{"data dir", c.DataDir},
		{"unit file path", c.UnitFilePath},
		{"service name", c.ServiceName},
	} {
		if f.value == "" {
			return fmt.Errorf("packaging: config: %s is required", f.name)
		}
	}
	if c.Backend != route.KindFRR && c.Backend != route.KindKernel {
		return fmt.Errorf("packaging: config: invalid backend %q", c.Backend)
	}
	return nil
}
