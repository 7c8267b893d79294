package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `# picklr-aws configuration
provider:
  region: us-east-1
  log-level: info
  wait:
    timeout: 30m
    interval: 30s

state:
  path: .picklr/aws-state.json

resources:
  - type: aws:CloudWatch.LogGroup
    name: app
    properties:
      name: /app/example
      retention_in_days: 14
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new picklr-aws project",
	Long:  `Writes a starter configuration file unless one already exists.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "%s already exists, leaving it unchanged.\n", configPath)
		return nil
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("failed to create %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "Created %s\n", configPath)

	fmt.Fprintln(out, "\npicklr-aws initialized successfully!")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Edit %s to define your infrastructure\n", configPath)
	fmt.Fprintln(out, "  2. Run 'picklr-aws plan' to see what will be created")
	fmt.Fprintln(out, "  3. Run 'picklr-aws apply' to create your infrastructure")
	return nil
}
