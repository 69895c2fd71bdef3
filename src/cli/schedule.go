package cli

import (
	"fmt"
	"io"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"genbak/src/generation"
	"genbak/src/pipeline"
)

func newScheduleCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule NAME",
		Short: "Run backups for a workload on a cron schedule",
		Long: "Schedule runs in the foreground and triggers a backup of the named\n" +
			"workload on every cron tick until interrupted. A tick that fires while\n" +
			"the previous run still holds the workload lock fails and is logged;\n" +
			"the next tick tries again.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd, stderr)
			if err != nil {
				return err
			}
			expr, err := cmd.Flags().GetString("cron")
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cron") && env.cfg.Schedule != "" {
				expr = env.cfg.Schedule
			}
			if expr == "" {
				return &pipeline.UsageError{Err: fmt.Errorf("no schedule given; use --cron (e.g., --cron '0 3 * * *')")}
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

			name := args[0]
			b := &pipeline.Backup{Client: client, Store: store, Log: env.log, Opts: opts}

			c := cron.New()
			_, err = c.AddFunc(expr, func() {
				gen, err := b.Run(cmd.Context(), name)
				if err != nil {
					env.log.WithField("workload", name).WithError(err).Error("scheduled backup failed")
					return
				}
				env.log.WithField("workload", name).Infof("sealed generation %s", gen.Timestamp)
			})
			if err != nil {
				return &pipeline.UsageError{Err: fmt.Errorf("invalid cron expression %q: %w", expr, err)}
			}

			fmt.Fprintf(stdout, "Scheduling backups of %s on %q; press Ctrl-C to stop\n", name, expr)
			c.Start()
			<-cmd.Context().Done()
			// let an in-flight run finish before exiting
			<-c.Stop().Done()
			return nil
		},
	}

	cmd.Flags().String("cron", "", "Cron expression (standard 5-field format)")
	addBackupFlags(cmd)
	return cmd
}
