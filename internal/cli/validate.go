package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Long: `Loads the configuration, checks its shape and retry settings, and builds
every resource to catch invalid properties and broken references. No AWS
API is called and state is not read.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	if _, err := p.engine.Graph(p.file.Config); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid (%d resources).\n", p.file.Path, len(p.file.Resources))
	return nil
}
