package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/monitoring"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report data-quality problems in the dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		sheet, _ := cmd.Flags().GetString("sheet")
		asJSON, _ := cmd.Flags().GetBool("json")
		notify, _ := cmd.Flags().GetBool("notify")

		env, err := initEnv(ctx, cfg, "stats", file == "")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := loadDataset(ctx, env, file, sheet); err != nil {
			return err
		}

		rep, err := env.Service.Health()
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring, env.Metrics)
		alerts := alerter.Evaluate(rep)

		if asJSON {
			if err := writeJSON(os.Stdout, map[string]any{"report": rep, "alerts": alerts}); err != nil {
				return err
			}
		} else {
			formatHealth(os.Stdout, rep, alerts)
		}

		if notify {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "%d of %d alerts sent\n", sent, len(alerts))
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("file", "", "check this CSV/xlsx file instead of the latest stored ingest")
	healthCmd.Flags().String("sheet", "", "worksheet name for xlsx files")
	healthCmd.Flags().Bool("json", false, "print the report as JSON")
	healthCmd.Flags().Bool("notify", false, "send triggered alerts to the configured webhook")
	rootCmd.AddCommand(healthCmd)
}

// formatHealth writes the report and any alerts to out.
func formatHealth(out io.Writer, rep *monitoring.HealthReport, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", rep.Rows)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", rep.Records)
	_, _ = fmt.Fprintf(w, "Malformed rows:\t%d (%.1f%%)\n", rep.MalformedRows, rep.MalformedRatio*100)
	_, _ = fmt.Fprintf(w, "Invalid dates:\t%d\n", rep.DateInvalid)
	_, _ = fmt.Fprintf(w, "Merged institutions:\t%d\n", rep.MergedInstitutions)
	_, _ = fmt.Fprintf(w, "Global completion:\t%.1f%%\n", rep.GlobalCompletionPct)
	_, _ = fmt.Fprintf(w, "No completion rate:\t%d\n", rep.EstimationUnavailable)
	sources := make([]string, 0, len(rep.RateSources))
	for src := range rep.RateSources {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, src := range sources {
		_, _ = fmt.Fprintf(w, "  rate source %s:\t%d\n", src, rep.RateSources[model.RateSource(src)])
	}
	_ = w.Flush()

	if len(rep.Collisions) > 0 {
		_, _ = fmt.Fprintf(out, "\nName-keyed courses spanning institutions (%d):\n", len(rep.Collisions))
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, c := range rep.Collisions {
			_, _ = fmt.Fprintf(w, "  %s\t%d records\t%d institutions\n", c.CourseName, c.Records, len(c.Institutions))
		}
		_ = w.Flush()
	}
	if len(rep.Renames) > 0 {
		_, _ = fmt.Fprintf(out, "\nCourse IDs with several names (%d):\n", len(rep.Renames))
		for _, r := range rep.Renames {
			_, _ = fmt.Fprintf(out, "  %s: %v\n", r.CourseID, r.Names)
		}
	}

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\nAlerts (%d):\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
