package eval

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/logging"
)

// Evaluator handles Pkl evaluation into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadConfig evaluates a Pkl configuration module. Entries in properties are
// readable from the module as external properties (read("prop:name")).
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	var cfg ir.Config
	if err := e.Evaluate(ctx, entryPoint, properties, &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate config: %w", err)
	}
	return &cfg, nil
}

// Evaluate evaluates entryPoint, relative to the project directory unless
// absolute, into out.
func (e *Evaluator) Evaluate(ctx context.Context, entryPoint string, properties map[string]string, out any) error {
	dir, err := filepath.Abs(e.projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if !filepath.IsAbs(entryPoint) {
		entryPoint = filepath.Join(dir, entryPoint)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := e.newEvaluator(ctx, dir, opts)
	if err != nil {
		return fmt.Errorf("failed to create Pkl evaluator: %w", err)
	}
	defer evaluator.Close()

	logging.Debug("evaluating pkl module", "module", entryPoint)
	return evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), out)
}

// newEvaluator uses the project's PklProject when there is one so package
// dependencies resolve, and a plain evaluator otherwise.
func (e *Evaluator) newEvaluator(ctx context.Context, dir string, opts []func(*pkl.EvaluatorOptions)) (pkl.Evaluator, error) {
	if hasProjectFile(dir) {
		u, err := url.Parse("file://" + dir + "/")
		if err != nil {
			return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
		}
		return pkl.NewProjectEvaluator(ctx, u, opts...)
	}
	return pkl.NewEvaluator(ctx, opts...)
}

func hasProjectFile(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "PklProject"))
	return err == nil
}
