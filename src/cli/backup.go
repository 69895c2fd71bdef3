package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"genbak/src/generation"
	"genbak/src/pipeline"
)

func newBackupCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup NAME",
		Short: "Back up a workload into a new incremental generation",
		Long: "Backup quiesces the named workload, captures its metadata and mount\n" +
			"data into a new timestamped generation (hard-linking files unchanged\n" +
			"since the previous one), seals it, packages it as a tar.gz artifact,\n" +
			"and advances the latest pointer.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd, stderr)
			if err != nil {
				return err
			}
			opts, err := backupOptions(cmd, env)
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

			b := &pipeline.Backup{Client: client, Store: store, Log: env.log, Opts: opts}
			gen, err := b.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Sealed generation %s for workload %s\n", gen.Timestamp, gen.Workload)
			return nil
		},
	}

	addBackupFlags(cmd)
	return cmd
}

// addBackupFlags is shared with the schedule command, which runs the same
// pipeline on a cron trigger.
func addBackupFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("stop-timeout", 30*time.Second, "Grace period for a clean stop before escalating to kill")
	cmd.Flags().Duration("retention", 0, "Prune sealed generations older than this after a successful run (0 disables)")
	cmd.Flags().Int("parallel", 4, "Maximum concurrent mount transfers")
	cmd.Flags().Bool("no-archive", false, "Skip the tar.gz packaging step")
}

func backupOptions(cmd *cobra.Command, env runEnv) (pipeline.BackupOptions, error) {
	stopTimeout, err := durationSetting(cmd, "stop-timeout", env.cfg.StopTimeout)
	if err != nil {
		return pipeline.BackupOptions{}, err
	}
	retention, err := durationSetting(cmd, "retention", env.cfg.Retention)
	if err != nil {
		return pipeline.BackupOptions{}, err
	}
	parallel, err := intSetting(cmd, "parallel", env.cfg.Parallel)
	if err != nil {
		return pipeline.BackupOptions{}, err
	}
	noArchive, err := cmd.Flags().GetBool("no-archive")
	if err != nil {
		return pipeline.BackupOptions{}, err
	}
	return pipeline.BackupOptions{
		StopTimeout: stopTimeout,
		Retention:   retention,
		Parallel:    parallel,
		Archive:     !noArchive,
	}, nil
}
