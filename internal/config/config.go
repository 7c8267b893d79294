// Package config loads the picklr-aws configuration file and turns its
// provider block into runtime options.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/eval"
	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/retrycond"
	"github.com/picklr-io/picklr-aws/internal/state"
	"github.com/picklr-io/picklr-aws/internal/wait"
)

// DefaultFile is read when no --config flag is given.
const DefaultFile = "picklr-aws.yaml"

// File is a loaded configuration together with the directory relative
// paths in it are resolved against.
type File struct {
	*ir.Config
	Path string
	Dir  string
}

// Load reads a .yaml, .yml or .pkl configuration file.
func Load(ctx context.Context, path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	var cfg *ir.Config
	switch ext := strings.ToLower(filepath.Ext(abs)); ext {
	case ".yaml", ".yml":
		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		cfg, err = Parse(content)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	case ".pkl":
		cfg, err = eval.NewEvaluator(filepath.Dir(abs)).LoadConfig(ctx, filepath.Base(abs), nil)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errdefs.Configf("config", "unsupported file extension %q, use .yaml, .yml or .pkl", ext)
	}

	f := &File{Config: cfg, Path: abs, Dir: filepath.Dir(abs)}
	if err := f.check(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML configuration after checking it against the schema.
func Parse(content []byte) (*ir.Config, error) {
	if err := checkShape(content); err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	var cfg ir.Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &errdefs.ConfigurationError{Message: err.Error()}
	}
	return &cfg, nil
}

// check enforces the rules the schema cannot express.
func (f *File) check() error {
	seen := map[string]bool{}
	for i, r := range f.Resources {
		if r == nil {
			return errdefs.Configf(fmt.Sprintf("resources[%d]", i), "is empty")
		}
		// Names are unique across types; references resolve by name alone.
		if seen[r.Name] {
			return errdefs.Configf(fmt.Sprintf("resources[%d]", i), "duplicate resource name %q", r.Name)
		}
		seen[r.Name] = true
	}
	for i, r := range f.Resources {
		for j, dep := range r.DependsOn {
			if !seen[dep] {
				return errdefs.Configf(fmt.Sprintf("resources[%d].depends-on[%d]", i, j), "no resource named %q", dep)
			}
		}
	}
	if n := f.Provider.Retry.Condition; n != nil {
		if err := n.Validate(); err != nil {
			return errdefs.Nest("provider.retry.condition", err)
		}
	}
	return nil
}

// StatePath returns the local state file path, relative to the config
// directory unless absolute.
func (f *File) StatePath() string {
	p := f.State.Path
	if p == "" {
		p = state.DefaultPath
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.Dir, p)
}

// WaitOptions converts the wait block, keeping defaults for unset values.
func WaitOptions(w ir.WaitConfig) (wait.Options, error) {
	opts := wait.DefaultOptions()
	var err error
	if opts.Timeout, err = duration("provider.wait.timeout", w.Timeout, opts.Timeout); err != nil {
		return opts, err
	}
	if opts.Interval, err = duration("provider.wait.interval", w.Interval, opts.Interval); err != nil {
		return opts, err
	}
	if opts.Interval > opts.Timeout {
		return opts, errdefs.Configf("provider.wait.interval", "%s exceeds the timeout %s", opts.Interval, opts.Timeout)
	}
	return opts, nil
}

// Retryer builds the retry middleware from the retry block. It returns nil
// when no condition is configured, leaving the SDK's standard retryer in
// place.
func Retryer(r ir.RetryConfig) (*retrycond.Retryer, error) {
	if r.Condition == nil {
		return nil, nil
	}
	maxBackoff, err := duration("provider.retry.max-backoff", r.MaxBackoff, retry.DefaultMaxBackoff)
	if err != nil {
		return nil, err
	}
	rt, err := retrycond.FromNode(r.Condition, maxBackoff)
	if err != nil {
		return nil, errdefs.Nest("provider.retry.condition", err)
	}
	return rt, nil
}

func duration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errdefs.Configf(field, "%q is not a duration", value)
	}
	if d <= 0 {
		return 0, errdefs.Configf(field, "must be positive, got %s", d)
	}
	return d, nil
}
