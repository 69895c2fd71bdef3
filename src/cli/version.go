package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"genbak/src/version"
)

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the genbak version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(stdout, version.Version)
			return nil
		},
	}
}
