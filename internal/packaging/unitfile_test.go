package packaging

import (
	"strings"
	"testing"
)

func TestGenerateUnitFile_Defaults(t *testing.T) {
	unit := GenerateUnitFile(InstallConfig{})

	for _, want := range []string{
		"ExecStart=/usr/local/bin/uplinkd up --config /etc/uplinkd/config.yaml",
		"ExecReload=/bin/kill -HUP $MAINPID",
		"After=network-online.target frr.service",
		"AmbientCapabilities=CAP_NET_ADMIN CAP_NET_RAW",
		"ReadWritePaths=/var/lib/uplinkd",
		"SupplementaryGroups=frrvty",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit file missing %q:\n%s", want, unit)
		}
	}
}

func TestGenerateUnitFile_KernelBackend(t *testing.T) {
	unit := GenerateUnitFile(InstallConfig{Backend: "kernel", BinaryPath: "/opt/uplinkd"})

	if strings.Contains(unit, "frr.service") {
		t.Errorf("kernel backend unit should not order after frr:\n%s", unit)
	}
	if strings.Contains(unit, "SupplementaryGroups") {
		t.Errorf("kernel backend unit needs no frrvty membership:\n%s", unit)
	}
	if !strings.Contains(unit, "ExecStart=/opt/uplinkd up") {
		t.Errorf("custom binary path not used:\n%s", unit)
	}
}
