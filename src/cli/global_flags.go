package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"genbak/src/config"
	"genbak/src/pipeline"
	"genbak/src/target"
)

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("target", "", "Backup target URI (e.g., dir:/mnt/backups)")
	cmd.PersistentFlags().String("config", "", "Optional YAML config file with defaults")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-file", "", "Rotating log file (default: stderr)")
}

// runEnv carries the resolved per-invocation environment: the parsed target,
// the config file defaults, and a configured logger.
type runEnv struct {
	cfg *config.Config
	tgt target.Target
	log *logrus.Logger
}

// resolveEnv merges flags over the optional config file. A flag that was set
// on the command line always wins over the file.
func resolveEnv(cmd *cobra.Command, stderr io.Writer) (runEnv, error) {
	flags := cmd.Root().PersistentFlags()

	cfg := &config.Config{}
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return runEnv{}, &pipeline.UsageError{Err: err}
		}
		cfg = loaded
	}

	raw, _ := flags.GetString("target")
	if raw == "" {
		raw = cfg.Target
	}
	if raw == "" {
		return runEnv{}, &pipeline.UsageError{Err: fmt.Errorf("no target given; use --target (e.g., --target dir:/mnt/backups)")}
	}
	tgt, err := target.Parse(raw)
	if err != nil {
		return runEnv{}, &pipeline.UsageError{Err: err}
	}

	level, _ := flags.GetString("log-level")
	if !flags.Changed("log-level") && cfg.Logging.Level != "" {
		level = cfg.Logging.Level
	}
	file, _ := flags.GetString("log-file")
	if file == "" {
		file = cfg.Logging.File
	}
	log, err := newLogger(level, file, stderr)
	if err != nil {
		return runEnv{}, &pipeline.UsageError{Err: err}
	}

	return runEnv{cfg: cfg, tgt: tgt, log: log}, nil
}

// durationSetting resolves a duration flag against its config file value.
func durationSetting(cmd *cobra.Command, name, cfgValue string) (time.Duration, error) {
	d, err := cmd.Flags().GetDuration(name)
	if err != nil {
		return 0, err
	}
	if cmd.Flags().Changed(name) || cfgValue == "" {
		return d, nil
	}
	d, err = config.Duration(cfgValue, d)
	if err != nil {
		return 0, &pipeline.UsageError{Err: err}
	}
	return d, nil
}

// intSetting resolves an int flag against its config file value.
func intSetting(cmd *cobra.Command, name string, cfgValue int) (int, error) {
	n, err := cmd.Flags().GetInt(name)
	if err != nil {
		return 0, err
	}
	if cmd.Flags().Changed(name) || cfgValue == 0 {
		return n, nil
	}
	return cfgValue, nil
}
