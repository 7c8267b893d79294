package cli

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/picklr-aws/internal/resource"
)

var (
	findFilters map[string]string
	findAll     bool
)

var findCmd = &cobra.Command{
	Use:   "find [type]",
	Short: "List existing resources of a type",
	Long: `Lists the resources of one type that already exist in the account,
whether or not picklr-aws manages them. Filters narrow the search; each type
accepts its own keys. With --all, every type is listed.

Example:
  picklr-aws find aws:Route53.RecordSet --filter zone=Z0123 --filter type=A`,
	Args: func(cmd *cobra.Command, args []string) error {
		if findAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runFind,
}

func init() {
	findCmd.Flags().StringToStringVar(&findFilters, "filter", nil, "Filter as key=value (repeatable)")
	findCmd.Flags().BoolVar(&findAll, "all", false, "List every resource type")
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	if !findAll {
		finder, err := p.registry.Finder(args[0])
		if err != nil {
			return err
		}
		found, err := finder.Find(ctx, findFilters)
		if err != nil {
			return err
		}
		printFound(cmd, args[0], found)
		return nil
	}

	if len(findFilters) > 0 {
		return fmt.Errorf("--filter cannot be combined with --all")
	}

	var (
		mu      sync.Mutex
		results = map[string][]resource.Managed{}
		types   []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, typ := range p.registry.Types() {
		finder, err := p.registry.Finder(typ)
		if err != nil {
			continue // not listable
		}
		types = append(types, typ)
		g.Go(func() error {
			found, err := finder.FindAll(gctx)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", typ, err)
			}
			mu.Lock()
			results[typ] = found
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, typ := range types {
		printFound(cmd, typ, results[typ])
	}
	return nil
}

func printFound(cmd *cobra.Command, typ string, found []resource.Managed) {
	out := cmd.OutOrStdout()
	for _, r := range found {
		fmt.Fprintf(out, "%s\t%s\n", typ, r.ID())
	}
}
