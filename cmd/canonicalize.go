package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/training-stats/internal/institution"
)

var canonicalizeCmd = &cobra.Command{
	Use:   "canonicalize NAME...",
	Short: "Show the canonical institution for raw institution names",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, canon, err := buildPipeline(cfg, nil)
		if err != nil {
			return err
		}
		formatCanonical(os.Stdout, canon, args)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(canonicalizeCmd)
}

// formatCanonical writes one line per raw name: the name, its canonical form
// and whether an alias group matched. Unmatched names are shown unchanged.
func formatCanonical(out io.Writer, canon *institution.Canonicalizer, names []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RAW\tCANONICAL\tMATCH")
	for _, name := range names {
		match := "-"
		canonical, ok := canon.Match(name)
		if ok {
			match = "alias"
		} else {
			canonical = name
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, canonical, match)
	}
	_ = w.Flush()
}
