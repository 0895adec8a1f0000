package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/training-stats/internal/estimate"
	"github.com/sells-group/training-stats/internal/model"
)

// FormatReport renders a human-readable summary of a dataset build.
func FormatReport(source string, ds *Dataset) string {
	var b strings.Builder

	if source == "" {
		source = "(unnamed)"
	}
	fmt.Fprintf(&b, "# Dataset Report: %s\n", source)
	fmt.Fprintf(&b, "Built: %s\n\n", ds.BuiltAt.Format("2006-01-02 15:04:05"))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Rows: %d\n", ds.Warnings.Rows)
	fmt.Fprintf(&b, "- Records: %d\n", len(ds.Records))
	fmt.Fprintf(&b, "- Malformed rows: %d\n", ds.Warnings.MalformedRows)
	fmt.Fprintf(&b, "- Invalid dates: %d\n", ds.Warnings.DateInvalid)
	fmt.Fprintf(&b, "- Global completion rate: %.1f%% (%d records)\n\n", ds.Estimate.Global, ds.Estimate.SampleSize)

	b.WriteString("## Revenue Adjustment\n")
	st := ds.AdjustStats
	fmt.Fprintf(&b, "- Adjusted: %d\n", st.Adjusted)
	fmt.Fprintf(&b, "- Short-circuited: %d\n", st.ShortCircuited)
	fmt.Fprintf(&b, "- Estimation unavailable: %d\n", st.EstimationUnavailable)
	fmt.Fprintf(&b, "- First offerings: %d\n", st.FirstOfferings)
	sources := make([]string, 0, len(st.BySource))
	for src := range st.BySource {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(&b, "  - %s: %d\n", src, st.BySource[model.RateSource(src)])
	}

	var total float64
	for _, r := range ds.Adjusted {
		total += r.AdjustedTotalRevenue
	}
	fmt.Fprintf(&b, "- Adjusted revenue: %s\n\n", estimate.FormatRevenue(total))

	if len(ds.Warnings.ByField) > 0 {
		b.WriteString("## Issues by Field\n")
		for _, f := range ds.Warnings.TopFields(10) {
			fmt.Fprintf(&b, "- %s: %d\n", f, ds.Warnings.ByField[f])
		}
		b.WriteString("\n")
	}

	return b.String()
}
