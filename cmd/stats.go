package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/training-stats/internal/aggregate"
	"github.com/sells-group/training-stats/internal/estimate"
	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate the dataset along one dimension",
	Long:  "Aggregates the latest ingest (or --file) by course, institution, year, month, ncs or leading_company. --all prints every dimension.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "table" {
			return eris.Errorf("unknown format %q (json or table)", format)
		}
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		file, _ := cmd.Flags().GetString("file")
		sheet, _ := cmd.Flags().GetString("sheet")

		var dim model.Dimension
		if !all {
			d, _ := cmd.Flags().GetString("dimension")
			if dim, err = model.ParseDimension(d); err != nil {
				return err
			}
		}

		env, err := initEnv(ctx, cfg, "stats", file == "")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := loadDataset(ctx, env, file, sheet); err != nil {
			return err
		}

		if all {
			ov, err := env.Service.Overview(ctx, f, limit)
			if err != nil {
				return eris.Wrap(err, "stats overview")
			}
			if format == "json" {
				return writeJSON(os.Stdout, ov)
			}
			formatOverview(os.Stdout, ov)
			return nil
		}

		groups, _, err := env.Service.Groups(ctx, dim, f)
		if err != nil {
			return eris.Wrapf(err, "stats %s", dim)
		}
		if limit > 0 && len(groups) > limit {
			groups = groups[:limit]
		}
		if format == "json" {
			return writeJSON(os.Stdout, groups)
		}
		formatGroups(os.Stdout, groups)
		return nil
	},
}

func init() {
	addFilterFlags(statsCmd)
	statsCmd.Flags().String("dimension", "institution", "course, institution, year, month, ncs or leading_company")
	statsCmd.Flags().Bool("all", false, "aggregate every dimension")
	statsCmd.Flags().String("format", "table", "output format: json or table")
	statsCmd.Flags().Int("limit", 0, "max groups per dimension (0 = all)")
	statsCmd.Flags().String("file", "", "aggregate this CSV/xlsx file instead of the latest stored ingest")
	statsCmd.Flags().String("sheet", "", "worksheet name for xlsx files")
	rootCmd.AddCommand(statsCmd)
}

// addFilterFlags registers the aggregation filter flags on cmd.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Int("year", 0, "restrict to one year (0 = all)")
	cmd.Flags().Int("month", 0, "restrict to one month of the year (1-12)")
	cmd.Flags().String("institution", "", "restrict to institutions containing this text")
	cmd.Flags().String("type", "", "restrict to one training type tag")
	cmd.Flags().String("mode", "current", "revenue mode: current or max")
	cmd.Flags().String("basis", "start", "date deciding a course's year: start or end")
	cmd.Flags().Bool("members", false, "include member records in each group")
}

// filterFromFlags reads the filter flags into a validated Filter.
func filterFromFlags(cmd *cobra.Command) (aggregate.Filter, error) {
	var f aggregate.Filter
	f.Year, _ = cmd.Flags().GetInt("year")
	f.Month, _ = cmd.Flags().GetInt("month")
	f.Institution, _ = cmd.Flags().GetString("institution")
	f.TrainingType, _ = cmd.Flags().GetString("type")
	mode, _ := cmd.Flags().GetString("mode")
	basis, _ := cmd.Flags().GetString("basis")
	f.Mode = model.RevenueMode(mode)
	f.Basis = model.Basis(basis)
	f.IncludeMembers, _ = cmd.Flags().GetBool("members")
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatGroups writes aggregated groups as a table to out.
func formatGroups(out io.Writer, groups []model.AggregatedGroup) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCOURSES\tENROLLED\tCOMPLETED\tCOMPLETION\tSATISFACTION\tREVENUE")
	_, _ = fmt.Fprintln(w, "----\t-------\t--------\t---------\t----------\t------------\t-------")
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.1f\t%s\n",
			truncateName(g.DisplayName, 30),
			g.MemberCount,
			g.TotalEnrolled,
			g.TotalCompleted,
			g.AverageCompletionRatePct,
			g.AverageSatisfaction,
			estimate.FormatRevenue(g.TotalRevenue),
		)
		if g.Spillover != nil && g.Spillover.MemberCount > 0 {
			_, _ = fmt.Fprintf(w, "  + spillover\t%d\t%d\t%d\t\t\t%s\n",
				g.Spillover.MemberCount,
				g.Spillover.TotalEnrolled,
				g.Spillover.TotalCompleted,
				estimate.FormatRevenue(g.Spillover.TotalRevenue),
			)
		}
	}
	_ = w.Flush()
}

// formatOverview writes the totals followed by one table per dimension.
func formatOverview(out io.Writer, ov *stats.Overview) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", ov.Source)
	_, _ = fmt.Fprintf(w, "Courses:\t%d\n", ov.Totals.CourseCount)
	_, _ = fmt.Fprintf(w, "Institutions:\t%d\n", ov.Totals.InstitutionCount)
	_, _ = fmt.Fprintf(w, "Enrolled:\t%d\n", ov.Totals.TotalEnrolled)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", ov.Totals.TotalCompleted)
	_, _ = fmt.Fprintf(w, "Completion:\t%.1f%%\n", ov.Totals.CompletionRate)
	_, _ = fmt.Fprintf(w, "Revenue:\t%s\n", estimate.FormatRevenue(ov.Totals.TotalRevenue))
	for _, yt := range ov.YearlyTotals {
		_, _ = fmt.Fprintf(w, "  %d:\t%s\n", yt.Year, estimate.FormatRevenue(yt.Revenue))
	}
	_ = w.Flush()

	for _, dim := range model.AllDimensions() {
		_, _ = fmt.Fprintf(out, "\n== %s ==\n", dim)
		formatGroups(out, ov.Groups[dim])
	}
}

// truncateName shortens s to at most n runes.
func truncateName(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
