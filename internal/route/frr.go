package route

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	// DefaultVtyshPath is the FRR shell used when none is configured.
	DefaultVtyshPath = "vtysh"

	// DefaultCommandTimeout bounds a single vtysh round trip.
	DefaultCommandTimeout = 5 * time.Second

	// DefaultVerifyAttempts is how many times the startup check runs.
	DefaultVerifyAttempts = 3

	// DefaultVerifyDelay is the initial backoff between startup checks.
	DefaultVerifyDelay = time.Second
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner implements CommandRunner with os/exec.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit returns an error carrying
// the command's trimmed output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return out.Bytes(), fmt.Errorf("%w: %s", err, msg)
		}
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}

// FRRConfig configures the FRR backend.
type FRRConfig struct {
	VtyshPath      string
	CommandTimeout time.Duration
	VerifyAttempts uint
	VerifyDelay    time.Duration
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *FRRConfig) ApplyDefaults() {
	if c.VtyshPath == "" {
		c.VtyshPath = DefaultVtyshPath
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.VerifyAttempts == 0 {
		c.VerifyAttempts = DefaultVerifyAttempts
	}
	if c.VerifyDelay == 0 {
		c.VerifyDelay = DefaultVerifyDelay
	}
}

// FRRBackend manages default routes as static routes in the FRRouting
// daemon, one vtysh invocation per change.
type FRRBackend struct {
	tracker
	cfg    FRRConfig
	runner CommandRunner
	logger *slog.Logger
}

// NewFRRBackend returns an FRRBackend that runs vtysh with runner.
// Config defaults are applied automatically.
func NewFRRBackend(cfg FRRConfig, runner CommandRunner, logger *slog.Logger) *FRRBackend {
	cfg.ApplyDefaults()
	b := &FRRBackend{cfg: cfg, runner: runner, logger: logger}
	b.tracker = tracker{
		table:     NewTable(),
		plane:     b,
		component: "route.frr",
		logger:    logger,
	}
	return b
}

// Name returns KindFRR.
func (b *FRRBackend) Name() string { return KindFRR }

// VerifyAvailable runs "show version", retrying while FRR starts up.
func (b *FRRBackend) VerifyAvailable(ctx context.Context) error {
	err := retry.Do(
		func() error {
			_, err := b.vtysh(ctx, "show version")
			return err
		},
		retry.Context(ctx),
		retry.Attempts(b.cfg.VerifyAttempts),
		retry.Delay(b.cfg.VerifyDelay),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Warn("FRR not reachable yet, retrying",
				"component", "route.frr",
				"attempt", n+1,
				"error", err,
			)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("route.frr: FRR unavailable (is FRR installed and %s in PATH?): %w", b.cfg.VtyshPath, err)
	}
	b.logger.Info("FRR connection validated", "component", "route.frr")
	return nil
}

func (b *FRRBackend) install(ctx context.Context, spec Spec) error {
	_, err := b.vtysh(ctx, "configure terminal", staticRouteCommand(spec))
	return err
}

func (b *FRRBackend) withdraw(ctx context.Context, spec Spec) error {
	_, err := b.vtysh(ctx, "configure terminal", "no "+staticRouteCommand(spec))
	return err
}

// vtysh runs the given commands in one vtysh session.
func (b *FRRBackend) vtysh(ctx context.Context, commands ...string) ([]byte, error) {
	if len(commands) == 0 {
		return nil, errors.New("route.frr: no command")
	}
	args := make([]string, 0, 2*len(commands))
	for _, c := range commands {
		args = append(args, "-c", c)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	b.logger.Debug("executing FRR command",
		"component", "route.frr",
		"commands", commands,
	)
	out, err := b.runner.Run(ctx, b.cfg.VtyshPath, args...)
	if err != nil {
		return out, fmt.Errorf("vtysh %q: %w", strings.Join(commands, "; "), err)
	}
	return out, nil
}

func staticRouteCommand(spec Spec) string {
	return fmt.Sprintf("ip route 0.0.0.0/0 %s %d", spec.Gateway, spec.Metric)
}
