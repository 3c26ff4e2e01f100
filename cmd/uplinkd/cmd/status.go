package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/uplinkd/internal/status"
)

var statusDataDir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last reconciliation cycle",
	Long:  "Read the status snapshot written by the running daemon and display it.",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDataDir, "data-dir", "", "data directory holding status.json (default from config)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	dir := statusDataDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("uplinkd status: %w", err)
		}
		dir = cfg.DataDir
	}

	snap, err := status.Read(dir)
	if errors.Is(err, status.ErrNoSnapshot) {
		fmt.Fprintln(cmd.OutOrStdout(), "No cycle recorded yet.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("uplinkd status: %w", err)
	}

	printStatus(cmd.OutOrStdout(), snap)
	return nil
}

func printStatus(w io.Writer, snap *status.Snapshot) {
	fmt.Fprintf(w, "Updated:  %s\n", snap.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Backend:  %s\n\n", snap.Backend)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERFACE\tHEALTHY\tGATEWAY\tPHASE\tACTION\tROUTE\tERROR")
	for _, st := range snap.Interfaces {
		rt := "-"
		if st.Route != nil {
			rt = fmt.Sprintf("via %s metric %d", st.Route.Gateway, st.Route.Metric)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
			st.Name, st.Healthy, dashIfEmpty(st.Gateway), st.Phase, st.Action, rt, dashIfEmpty(st.Error))
	}
	tw.Flush()
}
