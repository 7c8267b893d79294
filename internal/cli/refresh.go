package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Update state to match real infrastructure",
	Long: `Reads every resource recorded in state from AWS and updates the state
file to reflect what actually exists.

This detects drift between what picklr-aws thinks exists and what actually exists.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	unlock, err := lockState(ctx, p.backend)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := p.backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(st.Resources) == 0 {
		fmt.Fprintln(out, "No resources to refresh.")
		return nil
	}

	fmt.Fprintf(out, "Refreshing %d resource(s)...\n\n", len(st.Resources))
	result, err := p.engine.Refresh(ctx, st)
	if err != nil {
		return err
	}
	for _, addr := range result.Drifted {
		fmt.Fprintf(out, "  %s%s: DRIFTED (state updated)%s\n", colorize(colorYellow), addr, colorize(colorReset))
	}
	for _, addr := range result.Removed {
		fmt.Fprintf(out, "  %s%s: DELETED (no longer exists)%s\n", colorize(colorRed), addr, colorize(colorReset))
	}

	if len(result.Drifted) > 0 || len(result.Removed) > 0 {
		if err := p.backend.Write(ctx, st); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Fprintf(out, "\nRefresh complete. %d drifted, %d deleted.\n", len(result.Drifted), len(result.Removed))
	return nil
}
