package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/uplinkd/internal/packaging"
)

var (
	installBackend string
	installStart   bool
	purge          bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install uplinkd as a systemd service",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the uplinkd systemd service",
	RunE:  runUninstall,
}

func init() {
	installCmd.Flags().StringVar(&installBackend, "backend", "", "routing backend written to a new config (frr or kernel)")
	installCmd.Flags().BoolVar(&installStart, "start", false, "enable and start the service after installing")
	uninstallCmd.Flags().BoolVar(&purge, "purge", false, "also remove data and config directories")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}

func newInstaller(cfg packaging.InstallConfig) *packaging.Installer {
	return packaging.NewInstaller(cfg, packaging.NewSystemdController(), packaging.ProcessRoot{}, setupLogger(logLevel))
}

func runInstall(cmd *cobra.Command, _ []string) error {
	installer := newInstaller(packaging.InstallConfig{Backend: installBackend, Start: installStart})
	if err := installer.Install(cmd.Context()); err != nil {
		return fmt.Errorf("uplinkd install: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "uplinkd installed successfully")
	return nil
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	if err := newInstaller(packaging.InstallConfig{}).Uninstall(cmd.Context(), purge); err != nil {
		return fmt.Errorf("uplinkd uninstall: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "uplinkd uninstalled successfully")
	return nil
}
