package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <resource-address> <id>",
	Short: "Import existing infrastructure into picklr-aws state",
	Long: `Import an existing resource into the state file.

The resource is looked up with its type's finder and recorded as if apply
had created it. This does not generate configuration: write the matching
resource into the configuration file, then run plan to see any difference.

Example:
  picklr-aws import aws:CloudWatch.LogGroup.app /app/prod`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr, id := args[0], args[1]

	i := strings.LastIndex(addr, ".")
	if i <= 0 || i == len(addr)-1 || !strings.Contains(addr[:i], ":") {
		return fmt.Errorf("invalid resource address %q, expected format type.name", addr)
	}
	typ, name := addr[:i], addr[i+1:]

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	finder, err := p.registry.Finder(typ)
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

	found, err := finder.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", typ, err)
	}
	for _, r := range found {
		if r.ID() != id {
			continue
		}
		if err := p.engine.Import(st, name, r); err != nil {
			return err
		}
		if err := p.backend.Write(ctx, st); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s as %s\n", id, addr)
		return nil
	}
	return fmt.Errorf("no %s with id %s was found", typ, id)
}
