package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/picklr-io/picklr-aws/internal/ir"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage picklr-aws state",
	Long:  `Commands for inspecting and modifying picklr-aws state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Rename a resource in state",
	Long: `Renames a resource in state without touching AWS. The destination is a
new name, or an address of the same type.`,
	Args: cobra.ExactArgs(2),
	RunE: runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	_, backend, err := openState(cmd)
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Fprintln(out, "No resources in state.")
		return nil
	}

	fmt.Fprintf(out, "State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		fmt.Fprintf(out, "  %s (id: %s)\n", res.Address(), res.ID)
	}
	fmt.Fprintf(out, "\nTotal: %d resource(s)\n", len(s.Resources))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	_, backend, err := openState(cmd)
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res, ok := s.Find(args[0])
	if !ok {
		return fmt.Errorf("resource %s not found in state", args[0])
	}
	attrs, err := json.MarshalIndent(res.Attributes, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	fmt.Fprintf(out, "# %s\n", res.Address())
	fmt.Fprintf(out, "  id = %s\n", res.ID)
	if len(res.Dependencies) > 0 {
		fmt.Fprintf(out, "  dependencies = [%s]\n", strings.Join(res.Dependencies, ", "))
	}
	fmt.Fprintf(out, "  attributes = %s\n", attrs)
	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, backend, err := openState(cmd)
	if err != nil {
		return err
	}
	unlock, err := lockState(ctx, backend)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	src, dst := args[0], args[1]
	res, ok := s.Find(src)
	if !ok {
		return fmt.Errorf("resource %s not found in state", src)
	}
	newName := dst
	if prefix := res.Type + "."; strings.HasPrefix(dst, prefix) {
		newName = strings.TrimPrefix(dst, prefix)
	} else if strings.Contains(dst, ":") {
		return fmt.Errorf("cannot move %s to %s: the type of a resource cannot change", src, dst)
	}
	if slices.ContainsFunc(s.Resources, func(r *ir.ResourceState) bool { return r.Name == newName }) {
		return fmt.Errorf("a resource named %s already exists in state", newName)
	}

	oldName := res.Name
	res.Name = newName
	for _, r := range s.Resources {
		for i, dep := range r.Dependencies {
			if dep == oldName {
				r.Dependencies[i] = newName
			}
		}
	}

	if err := backend.Write(ctx, s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", src, res.Address())
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, backend, err := openState(cmd)
	if err != nil {
		return err
	}
	unlock, err := lockState(ctx, backend)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	if _, ok := s.Find(target); !ok {
		return fmt.Errorf("resource %s not found in state", target)
	}
	s.Remove(target)

	if err := backend.Write(ctx, s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}
