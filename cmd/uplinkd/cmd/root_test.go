package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommand_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{})

	_ = rootCmd.Execute()

	output := buf.String()
	if !strings.Contains(output, "uplinkd") {
		t.Errorf("help output should contain 'uplinkd', got: %s", output)
	}
	for _, sub := range []string{"up", "check", "status"} {
		if !strings.Contains(output, sub) {
			t.Errorf("help output should list %q, got: %s", sub, output)
		}
	}
}

func TestRootCommand_Version(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-01-01")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})

	_ = rootCmd.Execute()

	output := buf.String()
	for _, want := range []string{"uplinkd version 1.2.3", "abc123", "2025-01-01"} {
		if !strings.Contains(output, want) {
			t.Errorf("version output should contain %q, got: %s", want, output)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfig_LogLevelOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	cfgFile, logLevel = path, "debug"
	t.Cleanup(func() { cfgFile, logLevel = "", "" })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	logLevel = "loud"
	if _, err := loadConfig(); err == nil {
		t.Error("expected error for invalid --log-level")
	}
}

// writeConfig writes a minimal valid config whose data_dir is dataDir.
func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	content := "data_dir: " + dataDir + `
interfaces:
  - name: wan0
    metric: 10
    check_interval: 5s
    target_ip: 1.1.1.1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
