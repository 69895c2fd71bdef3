package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genbak/src/generation"
	"genbak/src/pipeline"
)

func newRestoreCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore NAME",
		Short: "Restore a workload from a sealed generation",
		Long: "Restore rebuilds the named workload from a sealed generation (the\n" +
			"latest by default). An existing workload with the same name is stopped\n" +
			"and removed first: restore replaces, it does not merge.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd, stderr)
			if err != nil {
				return err
			}
			opts, err := restoreOptions(cmd, env)
			if err != nil {
				return err
			}

			client, err := connectRuntime()
			if err != nil {
				return err
			}
			store, err := generation.NewStore(env.tgt.DirPath)
			if err != nil {
				return err
			}

			r := &pipeline.Restore{Client: client, Store: store, Log: env.log, Opts: opts}
			if err := r.Run(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Restored workload %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().String("generation", "", "Generation timestamp to restore (default: latest)")
	cmd.Flags().StringArray("map", nil, "Remap a mount host path: CONTAINER_PATH=NEW_HOST_PATH (repeatable)")
	cmd.Flags().Bool("no-start", false, "Leave the workload stopped even if it was captured running")
	cmd.Flags().Duration("stop-timeout", 30*time.Second, "Grace period when stopping an existing workload")
	cmd.Flags().Int("parallel", 4, "Maximum concurrent mount transfers")
	return cmd
}

func restoreOptions(cmd *cobra.Command, env runEnv) (pipeline.RestoreOptions, error) {
	gen, err := cmd.Flags().GetString("generation")
	if err != nil {
		return pipeline.RestoreOptions{}, err
	}
	maps, err := cmd.Flags().GetStringArray("map")
	if err != nil {
		return pipeline.RestoreOptions{}, err
	}
	overrides, err := parsePathOverrides(maps)
	if err != nil {
		return pipeline.RestoreOptions{}, err
	}
	noStart, err := cmd.Flags().GetBool("no-start")
	if err != nil {
		return pipeline.RestoreOptions{}, err
	}
	stopTimeout, err := durationSetting(cmd, "stop-timeout", env.cfg.StopTimeout)
	if err != nil {
		return pipeline.RestoreOptions{}, err
	}
	parallel, err := intSetting(cmd, "parallel", env.cfg.Parallel)
	if err != nil {
		return pipeline.RestoreOptions{}, err
	}
	return pipeline.RestoreOptions{
		Generation:    gen,
		PathOverrides: overrides,
		StopTimeout:   stopTimeout,
		Parallel:      parallel,
		Start:         !noStart,
	}, nil
}

// parsePathOverrides parses repeated --map values into a container-path keyed
// override table. The container path is the stable identity of a mount across
// machines, so it is the key.
func parsePathOverrides(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(values))
	for _, v := range values {
		cpath, hpath, ok := strings.Cut(v, "=")
		if !ok || cpath == "" || hpath == "" {
			return nil, &pipeline.UsageError{Err: fmt.Errorf("invalid --map %q; expected CONTAINER_PATH=NEW_HOST_PATH", v)}
		}
		if _, dup := overrides[cpath]; dup {
			return nil, &pipeline.UsageError{Err: fmt.Errorf("duplicate --map for container path %q", cpath)}
		}
		overrides[cpath] = hpath
	}
	return overrides, nil
}
