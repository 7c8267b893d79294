package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/picklr-aws/internal/ir"
)

var (
	applyAutoApprove     bool
	applyContinueOnError bool
	applyParallelism     int
	applyTargets         []string
)

var applyCmd = &cobra.Command{
	Use:   "apply [plan-file]",
	Short: "Apply a configuration",
	Long: `Builds or changes infrastructure according to the configuration file.

Given a plan file written by 'picklr-aws plan --out', applies exactly that
plan, provided the state has not changed since.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying independent resources after a failure")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 10, "Maximum number of resources changed at once")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to these resources and their dependencies")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	p.engine.ContinueOnError = applyContinueOnError
	p.engine.Parallelism = applyParallelism

	unlock, err := lockState(ctx, p.backend)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := p.backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	var plan *ir.Plan
	if len(args) == 1 {
		plan, err = readPlan(args[0])
	} else {
		plan, err = p.engine.CreatePlanWithTargets(ctx, p.file.Config, st, applyTargets)
	}
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if !hasChanges(plan) {
		fmt.Fprintln(out, "No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Fprintln(out, "picklr-aws will perform the following actions:")
	renderPlanChanges(out, plan)
	renderPlanSummary(out, plan)

	if !applyAutoApprove && !confirm(cmd, "Do you want to perform these actions?") {
		fmt.Fprintln(out, "Apply cancelled.")
		return nil
	}

	fmt.Fprintln(out)
	if err := p.engine.ApplyPlanWithCallback(ctx, plan, st, p.backend, printEvent(out)); err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	fmt.Fprintf(out, "\nApply complete! Resources: %d added, %d changed, %d replaced, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace, plan.Summary.Delete)
	return nil
}
