// Package config loads runtime configuration from a TOML file and
// environment variables.
//
// The file holds one table per environment. The "default" table is always
// applied; the table named by the CFG_ENV variable, when set, is merged on
// top; finally CFG_* variables override single keys (CFG_NATS_ADDRESS sets
// nats.address).
package config

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	koanffs "github.com/knadh/koanf/providers/fs"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	defaultEnv          = "default"
	defaultEnvPrefix    = "CFG_"
	defaultEnvSeparator = "_"
	defaultSettingsPath = "settings.toml"

	delim      = "."
	envVarName = "ENV"
)

type options struct {
	defaultEnv   string
	envPrefix    string
	envSeparator string
	filepath     string
}

// Option is an option func for NewConfiguration.
type Option func(options *options)

// WithDefaultEnv sets the name of the table that is always applied.
func WithDefaultEnv(env string) Option {
	return func(options *options) {
		options.defaultEnv = env
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(options *options) {
		options.envPrefix = prefix
	}
}

// WithEnvSeparator sets the string separating nested keys in variable names.
func WithEnvSeparator(separator string) Option {
	return func(options *options) {
		options.envSeparator = separator
	}
}

// WithFilePath sets the path of the TOML file within the file system.
func WithFilePath(path string) Option {
	return func(options *options) {
		options.filepath = path
	}
}

// Configuration is a read-only view of the merged settings.
type Configuration struct {
	k   *koanf.Koanf
	env string
}

func persistent(err error) error {
	return errclass.WrapAs(stacktrace.Wrap(err), errclass.Persistent)
}

// NewConfigurationFromMap builds a Configuration from a flat map with
// dotted keys, for tests.
func NewConfigurationFromMap(cfg map[string]any) (*Configuration, error) {
	k := koanf.New(delim)
	if err := k.Load(confmap.Provider(cfg, delim), nil); err != nil {
		return nil, persistent(err)
	}
	return &Configuration{k: k, env: defaultEnv}, nil
}

// NewConfiguration loads settings from fsys and the environment. A nil fsys
// means environment variables only.
func NewConfiguration(fsys fs.FS, opts ...Option) (*Configuration, error) {
	options := options{
		defaultEnv:   defaultEnv,
		envPrefix:    defaultEnvPrefix,
		envSeparator: defaultEnvSeparator,
		filepath:     defaultSettingsPath,
	}
	for _, opt := range opts {
		opt(&options)
	}

	environment := os.Getenv(options.envPrefix + envVarName)
	merged := koanf.New(delim)

	if fsys != nil {
		file := koanf.New(delim)
		if err := file.Load(koanffs.Provider(fsys, options.filepath), toml.Parser()); err != nil {
			return nil, persistent(err)
		}

		layers := []string{options.defaultEnv}
		if environment != "" && environment != options.defaultEnv {
			layers = append(layers, environment)
		}
		for _, name := range layers {
			if err := mergeTable(merged, file, name); err != nil {
				return nil, err
			}
		}
	}

	if environment == "" {
		environment = options.defaultEnv
	}

	if err := merged.Load(env.Provider(options.envPrefix, delim, envKey(options)), nil); err != nil {
		return nil, persistent(err)
	}

	return &Configuration{k: merged, env: environment}, nil
}

// mergeTable merges the top level table name of src into dst.
func mergeTable(dst, src *koanf.Koanf, name string) error {
	if !src.Exists(name) {
		return persistent(fmt.Errorf("environment %q not found", name))
	}
	table, ok := src.Get(name).(map[string]any)
	if !ok {
		return persistent(fmt.Errorf("environment %q is not a table", name))
	}
	if err := dst.Load(confmap.Provider(table, delim), nil); err != nil {
		return persistent(err)
	}
	return nil
}

// envKey maps PREFIX_NESTED_VALUE to nested.value.
func envKey(options options) func(string) string {
	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, options.envPrefix))
		return strings.ReplaceAll(s, options.envSeparator, delim)
	}
}

// Unmarshal decodes the settings rooted at path into a. An empty path
// decodes everything. Fields of a without a setting keep their value.
func (c *Configuration) Unmarshal(path string, a any) error {
	if err := c.k.Unmarshal(path, a); err != nil {
		return persistent(err)
	}
	return nil
}

// Exists reports whether any setting is present at path.
func (c *Configuration) Exists(path string) bool {
	return c.k.Exists(path)
}

// Environment returns the environment the settings were loaded for.
func (c *Configuration) Environment() string {
	return c.env
}

// Load decodes the settings at path over defaults.
func Load[T any](c *Configuration, path string, defaults T) (T, error) {
	if err := c.Unmarshal(path, &defaults); err != nil {
		var zero T
		return zero, err
	}
	return defaults, nil
}
