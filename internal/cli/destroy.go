package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys all resources recorded in state, dependents first.

This command is the inverse of 'picklr-aws apply'. Resources whose
configuration sets prevent-destroy stop the command before anything is
deleted.`,
	Args: cobra.NoArgs,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
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
		fmt.Fprintln(out, "No resources to destroy.")
		return nil
	}

	plan, err := p.engine.PlanDestroy(p.file.Config, st)
	if err != nil {
		return err
	}
	renderPlanChanges(out, plan)
	renderPlanSummary(out, plan)

	if !destroyAutoApprove && !confirm(cmd, "Do you really want to destroy all resources?") {
		fmt.Fprintln(out, "Destroy cancelled.")
		return nil
	}

	fmt.Fprintln(out)
	if err := p.engine.ApplyPlanWithCallback(ctx, plan, st, p.backend, printEvent(out)); err != nil {
		return fmt.Errorf("destroy failed: %w", err)
	}
	fmt.Fprintf(out, "\nDestroy complete! %d resource(s) deleted.\n", plan.Summary.Delete)
	return nil
}
