package packaging

import (
	"context"
	"os"
	"os/exec"

	"github.com/plexsphere/uplinkd/internal/route"
)

// SystemdController abstracts systemd service management for testability.
// Methods that modify state are idempotent.
type SystemdController interface {
	// IsAvailable reports whether systemctl is installed.
	IsAvailable() bool
	DaemonReload(ctx context.Context) error
	// EnableNow enables the service at boot and starts it.
	EnableNow(ctx context.Context, service string) error
	Disable(ctx context.Context, service string) error
	// Stop returns nil if the service is not running.
	Stop(ctx context.Context, service string) error
}

// RootChecker abstracts privilege checking for testability.
type RootChecker interface {
	IsRoot() bool
}

// Systemctl drives systemd through the systemctl binary.
type Systemctl struct {
	// Runner executes systemctl. Default: route.ExecRunner
	Runner route.CommandRunner
}

// NewSystemdController returns a SystemdController that calls systemctl.
func NewSystemdController() *Systemctl {
	return &Systemctl{Runner: route.ExecRunner{}}
}

// IsAvailable reports whether systemctl is on PATH.
func (s *Systemctl) IsAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// DaemonReload reloads unit files.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	return s.run(ctx, "daemon-reload")
}

// EnableNow enables and starts service.
func (s *Systemctl) EnableNow(ctx context.Context, service string) error {
	return s.run(ctx, "enable", "--now", service)
}

// Disable disables service at boot.
func (s *Systemctl) Disable(ctx context.Context, service string) error {
	return s.run(ctx, "disable", service)
}

// Stop stops service.
func (s *Systemctl) Stop(ctx context.Context, service string) error {
	return s.run(ctx, "stop", service)
}

func (s *Systemctl) run(ctx context.Context, args ...string) error {
	if _, err := s.Runner.Run(ctx, "systemctl", args...); err != nil {
		return err
	}
	return nil
}

// ProcessRoot checks the real process UID.
type ProcessRoot struct{}

// IsRoot reports whether the process runs as UID 0.
func (ProcessRoot) IsRoot() bool {
	return os.Getuid() == 0
}
