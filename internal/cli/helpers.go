package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/picklr-aws/internal/config"
	"github.com/picklr-io/picklr-aws/internal/engine"
	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/state"
	"github.com/picklr-io/picklr-aws/providers/aws"
)

// newRegistry registers the resource types available to a configuration.
// Tests swap it for one that needs no AWS account.
var newRegistry = func(ctx context.Context, f *config.File) (*resource.Registry, error) {
	waitOpts, err := config.WaitOptions(f.Provider.Wait)
	if err != nil {
		return nil, err
	}
	retryer, err := config.Retryer(f.Provider.Retry)
	if err != nil {
		return nil, err
	}
	awsCfg, err := aws.LoadConfig(ctx, aws.Options{
		Region:  f.Provider.Region,
		Profile: f.Provider.Profile,
		Retry:   retryer,
		Wait:    waitOpts,
	})
	if err != nil {
		return nil, err
	}
	reg := resource.NewRegistry()
	aws.New(awsCfg, waitOpts).Register(reg)
	return reg, nil
}

// newBackend opens the state backend a configuration names.
var newBackend = func(ctx context.Context, f *config.File) (state.Backend, error) {
	return state.NewBackend(ctx, f.State.Backend, f.StatePath())
}

type project struct {
	file     *config.File
	backend  state.Backend
	registry *resource.Registry
	engine   *engine.Engine
}

// loadConfig reads the --config file. Logging switches to the file's
// settings unless flags chose otherwise.
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	f, err := config.Load(cmd.Context(), configPath)
	if err != nil {
		return nil, err
	}
	level, format := logLevel, logFormat
	if level == "" {
		level = f.Provider.LogLevel
	}
	if format == "" {
		format = f.Provider.LogFormat
	}
	logging.Init(level, format)
	return f, nil
}

// openState loads the configuration and opens its state backend without
// building any AWS clients.
func openState(cmd *cobra.Command) (*config.File, state.Backend, error) {
	f, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	backend, err := newBackend(cmd.Context(), f)
	if err != nil {
		return nil, nil, err
	}
	return f, backend, nil
}

func loadProject(cmd *cobra.Command) (*project, error) {
	f, backend, err := openState(cmd)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry(cmd.Context(), f)
	if err != nil {
		return nil, err
	}
	eng := engine.NewEngine(reg, f.Dir)
	eng.UI = resource.WriterUI{W: cmd.OutOrStdout()}
	return &project{file: f, backend: backend, registry: reg, engine: eng}, nil
}

// lockState takes the state lock and returns the function releasing it.
func lockState(ctx context.Context, backend state.Backend) (func(), error) {
	if err := backend.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := backend.Unlock(context.WithoutCancel(ctx)); err != nil {
			logging.Warn("failed to release state lock", "error", err)
		}
	}, nil
}

// confirm asks a yes/no question on the command's input.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s (y/n): ", question)
	response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func hasChanges(plan *ir.Plan) bool {
	return slices.ContainsFunc(plan.Changes, func(c *ir.ResourceChange) bool { return c.Action != ir.ActionNoop })
}

// renderPlanChanges prints the detailed change list for a plan. Resources
// with nothing to do are left out.
func renderPlanChanges(w io.Writer, plan *ir.Plan) {
	reset := colorize(colorReset)
	for _, change := range plan.Changes {
		symbol, color := "~", colorize(colorYellow)
		switch change.Action {
		case ir.ActionNoop:
			continue
		case ir.ActionCreate:
			symbol, color = "+", colorize(colorGreen)
		case ir.ActionDelete:
			symbol, color = "-", colorize(colorRed)
		case ir.ActionReplace:
			symbol = "-/+"
		}

		fmt.Fprintf(w, "\n%s  # %s will be %s%s\n", color, change.Address, strings.ToLower(string(change.Action))+"d", reset)
		fmt.Fprintf(w, "%s  %s %s {%s\n", color, symbol, change.Address, reset)

		switch change.Action {
		case ir.ActionCreate:
			renderProperties(w, change.Desired.Properties, "+", colorize(colorGreen))
		case ir.ActionDelete:
			fmt.Fprintf(w, "%s      - id = %q%s\n", colorize(colorRed), change.Prior.ID, reset)
		default:
			var props map[string]any
			if change.Desired != nil {
				props = change.Desired.Properties
			}
			for _, field := range change.Changed {
				marker := ""
				if slices.Contains(change.ForcesReplacement, field) {
					marker = " # forces replacement"
				}
				var before any
				if change.Prior != nil {
					before = change.Prior.Attributes[field]
				}
				fmt.Fprintf(w, "%s      ~ %s = %s -> %s%s%s\n", color, field, formatValue(before), formatValue(props[field]), marker, reset)
			}
		}
		fmt.Fprintf(w, "%s    }%s\n", color, reset)
	}
}

func renderProperties(w io.Writer, props map[string]any, symbol, color string) {
	for _, k := range slices.Sorted(maps.Keys(props)) {
		fmt.Fprintf(w, "%s      %s %s = %s%s\n", color, symbol, k, formatValue(props[k]), colorize(colorReset))
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(w io.Writer, plan *ir.Plan) {
	fmt.Fprintln(w, "\nPlan Summary:")
	fmt.Fprintf(w, "  Create:  %d\n", plan.Summary.Create)
	fmt.Fprintf(w, "  Update:  %d\n", plan.Summary.Update)
	fmt.Fprintf(w, "  Delete:  %d\n", plan.Summary.Delete)
	fmt.Fprintf(w, "  Replace: %d\n", plan.Summary.Replace)
	fmt.Fprintf(w, "  NoOp:    %d\n", plan.Summary.NoOp)
}

// printEvent reports apply progress as it happens.
func printEvent(w io.Writer) engine.ApplyCallback {
	return func(ev engine.ApplyEvent) {
		switch ev.Status {
		case "completed":
			fmt.Fprintf(w, "%s: %s complete after %s\n", ev.Address, strings.ToLower(string(ev.Action)), ev.Duration.Round(time.Millisecond))
		case "failed":
			fmt.Fprintf(w, "%s%s: %s failed: %v%s\n", colorize(colorRed), ev.Address, strings.ToLower(string(ev.Action)), ev.Error, colorize(colorReset))
		case "skipped":
			fmt.Fprintf(w, "%s: skipped\n", ev.Address)
		default:
			fmt.Fprintf(w, "%s: %s started\n", ev.Address, strings.ToLower(string(ev.Action)))
		}
	}
}
