package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"genbak/src/dockerapi"
	"genbak/src/pipeline"
)

// connectRuntime is swappable so command tests can inject the fake client.
var connectRuntime = func() (dockerapi.Client, error) { return dockerapi.Connect() }

// NewRootCmd returns the root cobra command for the genbak CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "genbak",
		Short:         "Incremental generation-based backup and restore for Docker workloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &pipeline.UsageError{Err: err}
	})

	addGlobalFlags(cmd)

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newBackupCmd(stdout, stderr))
	cmd.AddCommand(newRestoreCmd(stdout, stderr))
	cmd.AddCommand(newListCmd(stdout, stderr))
	cmd.AddCommand(newPruneCmd(stdout, stderr))
	cmd.AddCommand(newScheduleCmd(stdout, stderr))

	return cmd
}

// usageArgs wraps a cobra positional-args check so a bad argument list maps
// to the usage exit code instead of a run failure.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &pipeline.UsageError{Err: err}
		}
		return nil
	}
}

// Execute runs the CLI with the process stdio and maps errors onto the
// documented exit codes: 0 ok, 1 usage, 2 not found, 3 run failed.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return pipeline.ExitCode(err)
	}
	return pipeline.ExitOK
}
