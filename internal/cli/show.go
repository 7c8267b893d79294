package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [plan-file]",
	Short: "Show the current state or a saved plan",
	Long:  `Displays a human-readable view of the current state, or of a plan file written by 'picklr-aws plan --out'.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var view any
	if len(args) == 1 {
		plan, err := readPlan(args[0])
		if err != nil {
			return err
		}
		if !showJSON {
			renderPlanChanges(out, plan)
			renderPlanSummary(out, plan)
			return nil
		}
		view = plan
	} else {
		_, backend, err := openState(cmd)
		if err != nil {
			return err
		}
		s, err := backend.Read(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}
		if !showJSON {
			fmt.Fprintf(out, "State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
			fmt.Fprintf(out, "Resources: %d\n", len(s.Resources))
			for _, res := range s.Resources {
				fmt.Fprintf(out, "\n# %s\n", res.Address())
				fmt.Fprintf(out, "  id = %s\n", res.ID)
				renderProperties(out, res.Attributes, " ", "")
			}
			return nil
		}
		view = s
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
