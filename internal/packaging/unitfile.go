package packaging

import (
	"path/filepath"
	"strings"

	"github.com/plexsphere/uplinkd/internal/route"
)

// unitCapabilities lets the daemon mutate routes and open AF_PACKET
// sockets without running as a fully privileged root process.
const unitCapabilities = "CAP_NET_ADMIN CAP_NET_RAW"

// frrVtyGroup owns the FRR vty sockets under /run/frr.
const frrVtyGroup = "frrvty"

type directive struct{ key, value string }

type unitSection struct {
	name       string
	directives []directive
}

// GenerateUnitFile produces the systemd unit for the uplinkd service.
// Defaults are applied to cfg first.
func GenerateUnitFile(cfg InstallConfig) string {
	cfg.ApplyDefaults()

	after := []string{"network-online.target"}
	service := []directive{
		{"Type", "simple"},
		{"ExecStart", cfg.BinaryPath + " up --config " + filepath.Join(cfg.ConfigDir, ConfigFileName)},
		{"ExecReload", "/bin/kill -HUP $MAINPID"},
		{"Restart", "always"},
		{"RestartSec", "5s"},
		{"AmbientCapabilities", unitCapabilities},
		{"CapabilityBoundingSet", unitCapabilities},
		{"ProtectSystem", "full"},
		{"ProtectHome", "true"},
		{"ReadWritePaths", cfg.DataDir},
	}
	if cfg.Backend == route.KindFRR {
		// vtysh fails until zebra and staticd are up.
		after = append(after, "frr.service")
		// The vty sockets and vtysh.conf are frr:frrvty and not world
		// accessible; without CAP_DAC_OVERRIDE group membership is the way in.
		service = append(service, directive{"SupplementaryGroups", frrVtyGroup})
	}

	return renderUnit([]unitSection{
		{"Unit", []directive{
			{"Description", "uplinkd multi-uplink failover controller"},
			{"After", strings.Join(after, " ")},
			{"Wants", "network-online.target"},
			{"StartLimitBurst", "5"},
			{"StartLimitIntervalSec", "60"},
		}},
		{"Service", service},
		{"Install", []directive{
			{"WantedBy", "multi-user.target"},
		}},
	})
}

func renderUnit(sections []unitSection) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[" + s.name + "]\n")
		for _, d := range s.directives {
			b.WriteString(d.key + "=" + d.value + "\n")
		}
	}
	return b.String()
}
