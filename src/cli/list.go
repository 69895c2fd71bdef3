package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"genbak/src/generation"
	"genbak/src/pipeline"
)

// listRow is the JSON shape for one generation in `list --output json`.
type listRow struct {
	Workload  string `json:"workload"`
	Timestamp string `json:"timestamp"`
	Sealed    bool   `json:"sealed"`
	Latest    bool   `json:"latest"`
	SizeBytes int64  `json:"sizeBytes"`
}

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [NAME]",
		Short: "List backed-up generations, newest first",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd, stderr)
			if err != nil {
				return err
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}
			if output != "table" && output != "json" {
				return &pipeline.UsageError{Err: fmt.Errorf("invalid --output %q; expected table or json", output)}
			}

			store, err := generation.NewStore(env.tgt.DirPath)
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names, err = store.Workloads()
				if err != nil {
					return err
				}
			}

			rows, err := collectRows(store, names)
			if err != nil {
				return err
			}
			if output == "json" {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return printTable(stdout, rows)
		},
	}

	cmd.Flags().String("output", "table", "Output format: table or json")
	return cmd
}

func collectRows(store *generation.Store, names []string) ([]listRow, error) {
	rows := []listRow{}
	for _, name := range names {
		gens, err := store.List(name)
		if err != nil {
			return nil, err
		}
		latest, haveLatest, err := store.Latest(name)
		if err != nil {
			return nil, err
		}
		for _, g := range gens {
			rows = append(rows, listRow{
				Workload:  g.Workload,
				Timestamp: g.Timestamp,
				Sealed:    g.Sealed,
				Latest:    haveLatest && g.Timestamp == latest.Timestamp,
				SizeBytes: store.TreeSize(g),
			})
		}
	}
	return rows, nil
}

func printTable(w io.Writer, rows []listRow) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKLOAD\tGENERATION\tSEALED\tLATEST\tSIZE")
	for _, r := range rows {
		sealed := "yes"
		if !r.Sealed {
			sealed = "no"
		}
		latest := ""
		if r.Latest {
			latest = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Workload, r.Timestamp, sealed, latest, units.HumanSize(float64(r.SizeBytes)))
	}
	return tw.Flush()
}
