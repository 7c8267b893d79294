package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picklr-io/picklr-aws/internal/ir"
)

var (
	planOutFile string
	planTargets []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions picklr-aws will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated, with the fields that changed
  • Resources to be replaced, with the fields that force it
  • Resources to be deleted

A plan written with --out can be applied later with 'picklr-aws apply <file>'.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan to file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit the plan to these resources and their dependencies")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	st, err := p.backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	plan, err := p.engine.CreatePlanWithTargets(ctx, p.file.Config, st, planTargets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if hasChanges(plan) {
		fmt.Fprintln(out, "picklr-aws will perform the following actions:")
		renderPlanChanges(out, plan)
	} else {
		fmt.Fprintln(out, "No changes. Infrastructure is up-to-date.")
	}
	renderPlanSummary(out, plan)

	if planOutFile != "" {
		if err := writePlan(planOutFile, plan); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nPlan saved to %s\n", planOutFile)
	}
	return nil
}

func writePlan(path string, plan *ir.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

func readPlan(path string) (*ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var plan ir.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if plan.Summary == nil {
		plan.Summary = &ir.PlanSummary{}
	}
	return &plan, nil
}
