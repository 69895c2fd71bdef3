package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"genbak/src/generation"
	"genbak/src/pipeline"
	"genbak/src/retention"
)

func newPruneCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune NAME",
		Short: "Delete generations older than the retention horizon",
		Long: "Prune removes sealed generations older than --retention, plus any\n" +
			"unsealed leftovers from interrupted runs. The generation the latest\n" +
			"pointer names is never removed.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd, stderr)
			if err != nil {
				return err
			}
			horizon, err := durationSetting(cmd, "retention", env.cfg.Retention)
			if err != nil {
				return err
			}
			if horizon <= 0 {
				return &pipeline.UsageError{Err: fmt.Errorf("a positive --retention is required (e.g., --retention 720h)")}
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return err
			}

			store, err := generation.NewStore(env.tgt.DirPath)
			if err != nil {
				return err
			}
			name := args[0]

			// Takes the same per-workload lock a backup run holds, so a prune
			// cannot race a run in progress.
			release, err := store.Lock(name, uuid.NewString())
			if err != nil {
				return err
			}
			defer release()

			pruner := retention.New(store, env.log)
			if dryRun {
				planned, err := pruner.Plan(name, horizon)
				if err != nil {
					return err
				}
				return printPrunePlan(stdout, planned)
			}

			removed, err := pruner.Prune(name, horizon)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Removed %d generation(s) for workload %s\n", len(removed), name)
			return nil
		},
	}

	cmd.Flags().Duration("retention", 0, "Retention horizon; generations older than this are removed")
	cmd.Flags().Bool("dry-run", false, "Show what would be removed without removing anything")
	return cmd
}

func printPrunePlan(w io.Writer, planned []generation.Generation) error {
	if len(planned) == 0 {
		fmt.Fprintln(w, "Nothing to prune.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATION\tSEALED")
	for _, g := range planned {
		sealed := "yes"
		if !g.Sealed {
			sealed = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\n", g.Timestamp, sealed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Would remove %d generation(s). Re-run without --dry-run to apply.\n", len(planned))
	return nil
}
