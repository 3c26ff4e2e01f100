package packaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/plexsphere/uplinkd/internal/fsutil"
)

// ConfigFileName is the name of the daemon config inside ConfigDir.
const ConfigFileName = "config.yaml"

// Installer installs and removes the uplinkd systemd service.
type Installer struct {
	cfg        InstallConfig
	systemd    SystemdController
	root       RootChecker
	logger     *slog.Logger
	executable func() (string, error)
}

// NewInstaller returns an Installer for cfg with defaults applied.
func NewInstaller(cfg InstallConfig, systemd SystemdController, root RootChecker, logger *slog.Logger) *Installer {
	cfg.ApplyDefaults()
	return &Installer{
		cfg:        cfg,
		systemd:    systemd,
		root:       root,
		logger:     logger.With("component", "packaging"),
		executable: os.Executable,
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Install places the running binary at BinaryPath, writes a starter config
// unless one exists, writes the unit and reloads systemd. The service is
// enabled and started only when Start is set.
func (ins *Installer) Install(ctx context.Context) error {
	if err := ins.cfg.Validate(); err != nil {
		return err
	}
	if !ins.root.IsRoot() {
		return errors.New("packaging: install requires root privileges")
	}
	if !ins.systemd.IsAvailable() {
		return errors.New("packaging: systemd is not available")
	}

	steps := []step{
		{"prepare data directory", func(context.Context) error { return os.MkdirAll(ins.cfg.DataDir, 0o755) }},
		{"install binary", func(context.Context) error { return ins.installBinary() }},
		{"write config", func(context.Context) error { return ins.writeStarterConfig() }},
		{"write unit file", func(context.Context) error { return ins.writeUnit() }},
		{"daemon-reload", ins.systemd.DaemonReload},
	}
	if ins.cfg.Start {
		steps = append(steps, step{"enable " + ins.cfg.ServiceName, func(ctx context.Context) error {
			return ins.systemd.EnableNow(ctx, ins.cfg.ServiceName)
		}})
	}

	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("packaging: %s: %w", s.name, err)
		}
	}
	ins.logger.Info("uplinkd installed",
		"binary", ins.cfg.BinaryPath,
		"unit", ins.cfg.UnitFilePath,
		"backend", ins.cfg.Backend,
		"started", ins.cfg.Start,
	)
	return nil
}

func (ins *Installer) installBinary() error {
	src, err := ins.executable()
	if err != nil {
		return fmt.Errorf("locate running executable: %w", err)
	}
	if src, err = filepath.EvalSymlinks(src); err != nil {
		return err
	}
	if dst, err := filepath.EvalSymlinks(ins.cfg.BinaryPath); err == nil && dst == src {
		ins.logger.Info("binary already in place", "path", dst)
		return nil
	}
	dir, name := filepath.Split(ins.cfg.BinaryPath)
	return fsutil.CopyFileAtomic(src, dir, name, 0o755)
}

// writeStarterConfig never touches an existing config.
func (ins *Installer) writeStarterConfig() error {
	path := filepath.Join(ins.cfg.ConfigDir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		ins.logger.Info("keeping existing config", "path", path)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	content := GenerateDefaultConfig(ins.cfg.Backend, ins.cfg.DataDir)
	if err := fsutil.WriteFileAtomic(ins.cfg.ConfigDir, ConfigFileName, []byte(content), 0o644); err != nil {
		return err
	}
	ins.logger.Info("starter config written", "path", path)
	return nil
}

func (ins *Installer) writeUnit() error {
	dir, name := filepath.Split(ins.cfg.UnitFilePath)
	return fsutil.WriteFileAtomic(dir, name, []byte(GenerateUnitFile(ins.cfg)), 0o644)
}

// Uninstall stops and disables the service, then removes the unit and the
// binary. purge also deletes ConfigDir and DataDir.
func (ins *Installer) Uninstall(ctx context.Context, purge bool) error {
	if !ins.root.IsRoot() {
		return errors.New("packaging: uninstall requires root privileges")
	}
	if _, err := os.Stat(ins.cfg.UnitFilePath); errors.Is(err, os.ErrNotExist) {
		ins.logger.Info("no unit file found, nothing to uninstall", "path", ins.cfg.UnitFilePath)
		return nil
	}

	// Best effort: the unit may be inactive or already disabled.
	if err := ins.systemd.Stop(ctx, ins.cfg.ServiceName); err != nil {
		ins.logger.Warn("stop failed, continuing", "service", ins.cfg.ServiceName, "error", err)
	}
	if err := ins.systemd.Disable(ctx, ins.cfg.ServiceName); err != nil {
		ins.logger.Warn("disable failed, continuing", "service", ins.cfg.ServiceName, "error", err)
	}

	if err := removeIfPresent(ins.cfg.UnitFilePath); err != nil {
		return fmt.Errorf("packaging: remove unit file: %w", err)
	}
	if err := ins.systemd.DaemonReload(ctx); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}
	if err := removeIfPresent(ins.cfg.BinaryPath); err != nil {
		return fmt.Errorf("packaging: remove binary: %w", err)
	}

	removed := []string{ins.cfg.UnitFilePath, ins.cfg.BinaryPath}
	if purge {
		for _, dir := range []string{ins.cfg.ConfigDir, ins.cfg.DataDir} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("packaging: purge %s: %w", dir, err)
			}
			removed = append(removed, dir)
		}
	}
	ins.logger.Info("uplinkd uninstalled", "removed", removed)
	return nil
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
