package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/cuttercd/cutter/pkg/vcs"
)

const (
	// ConfigFilename is the path of the pipeline definition, relative
	// to the root of the tagged commit's tree.
	ConfigFilename = ".cutter.yaml"

	defaultCommandTimeout = 10 * time.Minute
	defaultDeployTimeout  = 5 * time.Minute
	defaultTestRetries    = 3
)

// The bare minimum is a version and a build command. Cross-field rules
// (deploy needs package) are checked in code.
const configSchema = `
{
  "type": "object",
  "required": ["version", "build"],
  "properties": {
    "version": {"type": "integer", "enum": [1]},
    "build": {
      "type": "object",
      "required": ["command"],
      "properties": {
        "command": {"type": "string", "minLength": 1},
        "timeout": {"type": "string"}
      }
    },
    "test": {
      "type": "object",
      "required": ["command"],
      "properties": {
        "command": {"type": "string", "minLength": 1},
        "flaky": {"type": "boolean"},
        "retries": {"type": "integer", "minimum": 1},
        "timeout": {"type": "string"}
      }
    },
    "package": {
      "type": "object",
      "required": ["command", "artifact", "image"],
      "properties": {
        "command": {"type": "string", "minLength": 1},
        "artifact": {"type": "string", "minLength": 1},
        "image": {"type": "string", "minLength": 1},
        "timeout": {"type": "string"}
      }
    },
    "deploy": {
      "type": "object",
      "required": ["workload", "container"],
      "properties": {
        "namespace": {"type": "string"},
        "workload": {"type": "string", "minLength": 1},
        "container": {"type": "string", "minLength": 1},
        "timeout": {"type": "string"}
      }
    }
  }
}
`

// Duration lets timeouts in .cutter.yaml be written the way Go writes
// them ("90s", "10m"). YAML is converted via JSON, so UnmarshalJSON is
// the only hook needed.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// or returns the duration, or def when the field was left out.
func (d Duration) or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// Config is a project's .cutter.yaml: what to run for each phase of
// the pipeline. Only build is mandatory; leaving a section out skips
// that phase.
type Config struct {
	Version int            `json:"version"`
	Build   BuildConfig    `json:"build"`
	Test    *TestConfig    `json:"test,omitempty"`
	Package *PackageConfig `json:"package,omitempty"`
	Deploy  *DeployConfig  `json:"deploy,omitempty"`
}

type BuildConfig struct {
	Command string   `json:"command"`
	Timeout Duration `json:"timeout,omitempty"`
}

type TestConfig struct {
	Command string `json:"command"`
	// Flaky marks a network-bound suite whose failures may be retried,
	// up to Retries attempts with backoff. Unit-style suites should
	// leave this off and fail fast.
	Flaky   bool     `json:"flaky,omitempty"`
	Retries int      `json:"retries,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
}

type PackageConfig struct {
	Command string `json:"command"`
	// Artifact is where the package command leaves the image tarball,
	// relative to the working tree.
	Artifact string `json:"artifact"`
	// Image is the repository the artifact is pushed to; the release
	// tag becomes the image tag.
	Image   string   `json:"image"`
	Timeout Duration `json:"timeout,omitempty"`
}

type DeployConfig struct {
	Namespace string   `json:"namespace,omitempty"`
	Workload  string   `json:"workload"`
	Container string   `json:"container"`
	Timeout   Duration `json:"timeout,omitempty"`
}

func (c BuildConfig) timeout() time.Duration   { return c.Timeout.or(defaultCommandTimeout) }
func (c TestConfig) timeout() time.Duration    { return c.Timeout.or(defaultCommandTimeout) }
func (c PackageConfig) timeout() time.Duration { return c.Timeout.or(defaultCommandTimeout) }
func (c DeployConfig) timeout() time.Duration  { return c.Timeout.or(defaultDeployTimeout) }

func (c TestConfig) retries() int {
	if !c.Flaky {
		return 1
	}
	if c.Retries > 0 {
		return c.Retries
	}
	return defaultTestRetries
}

func (c DeployConfig) namespace() string {
	if c.Namespace == "" {
		return "default"
	}
	return c.Namespace
}

// ParseConfig validates and decodes a .cutter.yaml.
func ParseConfig(data []byte) (*Config, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", ConfigFilename)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "validating %s", ConfigFilename)
	}
	if !result.Valid() {
		var faults []string
		for _, fault := range result.Errors() {
			faults = append(faults, fault.String())
		}
		return nil, errors.Errorf("invalid %s: %s", ConfigFilename, strings.Join(faults, "; "))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", ConfigFilename)
	}
	if cfg.Deploy != nil && cfg.Package == nil {
		return nil, errors.Errorf("invalid %s: deploy requires a package section", ConfigFilename)
	}
	return &cfg, nil
}

// LoadConfig reads the pipeline definition from the tree of the given
// commit. A commit without one cannot be executed; that is a
// configuration error, not a transient one.
func LoadConfig(ctx context.Context, src vcs.Source, commitID string) (*Config, error) {
	data, err := src.FileAt(ctx, commitID, ConfigFilename)
	if err != nil {
		if vcs.IsFileNotFound(err) {
			return nil, configMissingError(commitID)
		}
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, configInvalidError(err)
	}
	return cfg, nil
}
