package ir

import "github.com/picklr-io/picklr-aws/internal/retrycond"

// Config is the top-level configuration file.
type Config struct {
	Provider  ProviderConfig `yaml:"provider" pkl:"provider"`
	State     StateConfig    `yaml:"state" pkl:"state"`
	Resources []*Resource    `yaml:"resources" pkl:"resources"`
}

// ProviderConfig configures the AWS session and the bounds used while
// waiting on asynchronous operations. Durations are Go duration strings.
type ProviderConfig struct {
	Region    string      `yaml:"region" pkl:"region"`
	Profile   string      `yaml:"profile" pkl:"profile"`
	LogLevel  string      `yaml:"log-level" pkl:"logLevel"`
	LogFormat string      `yaml:"log-format" pkl:"logFormat"`
	Wait      WaitConfig  `yaml:"wait" pkl:"wait"`
	Retry     RetryConfig `yaml:"retry" pkl:"retry"`
}

type WaitConfig struct {
	Timeout  string `yaml:"timeout" pkl:"timeout"`
	Interval string `yaml:"interval" pkl:"interval"`
}

type RetryConfig struct {
	MaxBackoff string          `yaml:"max-backoff" pkl:"maxBackoff"`
	Condition  *retrycond.Node `yaml:"condition" pkl:"condition"`
}

// StateConfig selects where state is kept. Without a backend, state lives
// in a local file at Path.
type StateConfig struct {
	Path    string         `yaml:"path" pkl:"path"`
	Backend *BackendConfig `yaml:"backend" pkl:"backend"`
}

type BackendConfig struct {
	Type   string            `yaml:"type" pkl:"type"` // "local", "s3"
	Config map[string]string `yaml:"config" pkl:"config"`
}
