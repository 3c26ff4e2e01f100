package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plexsphere/uplinkd/internal/gateway"
	"github.com/plexsphere/uplinkd/internal/reconcile"
	"github.com/plexsphere/uplinkd/internal/uplink"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every interface once without changing routes",
	Long: "Run one gateway selection pass over all configured interfaces and print\n" +
		"the verdicts. Routes are never touched. Exits non-zero when an interface\n" +
		"is unhealthy.",
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("uplinkd check: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)

	plat, err := newPlatform(cfg, false, logger)
	if err != nil {
		return fmt.Errorf("uplinkd check: %w", err)
	}
	ifaces, err := cfg.Uplinks(plat.lister)
	if err != nil {
		return fmt.Errorf("uplinkd check: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	selector := gateway.NewSelector(plat.links, plat.directory, plat.prober, logger)
	if unhealthy := runChecks(ctx, selector, ifaces, cmd.OutOrStdout()); unhealthy > 0 {
		return fmt.Errorf("uplinkd check: %d of %d interfaces unhealthy", unhealthy, len(ifaces))
	}
	return nil
}

// runChecks selects a gateway for each interface in order, prints one line
// per interface and returns the number of unhealthy interfaces.
func runChecks(ctx context.Context, sel reconcile.Selector, ifaces []uplink.Interface, out io.Writer) int {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERFACE\tHEALTHY\tGATEWAY\tPHASE\tPROBED")

	unhealthy := 0
	for _, iface := range ifaces {
		if ctx.Err() != nil {
			break
		}
		v := sel.Select(ctx, iface)
		gw := "-"
		if v.Healthy {
			gw = v.Gateway.String()
		} else {
			unhealthy++
		}
		probed := make([]string, len(v.Probed))
		for i, a := range v.Probed {
			probed[i] = a.String()
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", iface.Name, v.Healthy, gw, v.Phase, dashIfEmpty(strings.Join(probed, ",")))
	}
	tw.Flush()
	return unhealthy
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
