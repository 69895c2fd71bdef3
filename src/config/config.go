// Package config loads optional file-based defaults for the CLI. Flags
// always win over the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Target is the backup target URI, e.g. dir:/srv/backups.
	Target string `yaml:"target"`
	// StopTimeout and Retention are Go duration strings ("30s", "720h").
	StopTimeout string        `yaml:"stopTimeout"`
	Retention   string        `yaml:"retention"`
	Parallel    int           `yaml:"parallel"`
	Schedule    string        `yaml:"schedule"` // cron expression for the schedule command
	Logging     LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // rotating log file; empty logs to stderr
}

// matches $(VAR_NAME)
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envPattern.FindStringSubmatch(m)[1])
	})
}

// Load reads a YAML config file, expanding $(ENV_VAR) placeholders.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	return &cfg, nil
}

// Duration parses one of the duration-valued fields, with a fallback when
// the field is unset.
func Duration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}
