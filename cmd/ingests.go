package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/training-stats/internal/store"
)

var ingestsCmd = &cobra.Command{
	Use:   "ingests",
	Short: "List stored ingests, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		ingests, err := st.ListIngests(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "ingests list")
		}
		if len(ingests) == 0 {
			fmt.Fprintln(os.Stderr, "No ingests found.")
			return nil
		}

		formatIngests(os.Stdout, ingests)
		return nil
	},
}

func init() {
	ingestsCmd.Flags().Int("limit", 20, "max number of ingests to display")
	rootCmd.AddCommand(ingestsCmd)
}

// formatIngests writes a tabular list of ingests to out.
func formatIngests(out io.Writer, ingests []store.Ingest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tROWS\tCOLUMNS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-------\t-------")
	for _, in := range ingests {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			truncateID(in.ID),
			truncateName(in.Source, 40),
			in.RowCount,
			len(in.Header),
			in.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
