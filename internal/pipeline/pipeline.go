// Package pipeline turns raw source rows into an immutable, adjusted dataset:
// normalize, canonicalize, estimate completion, adjust revenue.
package pipeline

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/estimate"
	"github.com/sells-group/training-stats/internal/institution"
	"github.com/sells-group/training-stats/internal/metrics"
	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/normalize"
)

// maxLoggedIssues caps per-issue WARN lines for one run; the rest are only counted.
const maxLoggedIssues = 20

// maxKeptIssues caps the issues retained on the WarningReport.
const maxKeptIssues = 100

// Pipeline builds datasets. A Pipeline is safe for concurrent use as long as
// its fields are not modified after construction.
type Pipeline struct {
	Normalizer    *normalize.Normalizer
	Canonicalizer *institution.Canonicalizer
	Adjuster      *estimate.Adjuster

	// UseInstitutionRate feeds the dataset's own per-institution rates into
	// the adjuster's institution fallback. Configured rates take precedence.
	UseInstitutionRate bool

	Metrics *metrics.Metrics
}

// New creates a Pipeline with the given stages. Nil stages fall back to
// defaults: flag date policy, the built-in alias table and the default curve.
func New(n *normalize.Normalizer, c *institution.Canonicalizer, a *estimate.Adjuster) *Pipeline {
	if n == nil {
		n = normalize.New(normalize.FallbackFlag)
	}
	if c == nil {
		c = institution.Default()
	}
	if a == nil {
		a = estimate.NewAdjuster()
	}
	return &Pipeline{Normalizer: n, Canonicalizer: c, Adjuster: a}
}

// WarningReport counts the data-quality problems found while normalizing.
type WarningReport struct {
	Rows          int                         `json:"rows"`
	MalformedRows int                         `json:"malformed_rows"`
	ByKind        map[normalize.IssueKind]int `json:"by_kind"`
	ByField       map[string]int              `json:"by_field"`
	DateInvalid   int                         `json:"date_invalid"`
	Issues        []normalize.Issue           `json:"issues,omitempty"` // first issues only
}

// Dataset is one fully processed snapshot. It is never mutated after Run
// returns; a new ingest produces a new Dataset.
type Dataset struct {
	Records     []model.CourseRecord         `json:"-"`
	Adjusted    []model.AdjustedCourseRecord `json:"-"`
	Estimate    estimate.CompletionEstimate  `json:"estimate"`
	Warnings    WarningReport                `json:"warnings"`
	AdjustStats estimate.AdjustStats         `json:"adjust_stats"`
	BuiltAt     time.Time                    `json:"built_at"`
}

// Run processes rows synchronously and returns the dataset. Malformed rows
// are kept and reported, never fatal.
func (p *Pipeline) Run(rows []normalize.Row) *Dataset {
	log := zap.L().With(zap.String("component", "pipeline"))
	start := time.Now()

	records, issues := p.Normalizer.NormalizeAll(rows)
	for i := range records {
		p.canonicalize(&records[i])
	}
	warnings := buildWarnings(len(rows), records, issues)
	for i, is := range issues {
		if i >= maxLoggedIssues {
			break
		}
		log.Warn("pipeline: malformed cell",
			zap.Int("row", is.Row),
			zap.String("field", is.Field),
			zap.String("kind", string(is.Kind)),
			zap.String("value", is.Value),
		)
	}
	if warnings.MalformedRows > 0 {
		log.Warn("pipeline: malformed rows",
			zap.Int("rows", warnings.MalformedRows),
			zap.Int("issues", len(issues)),
			zap.Int("date_invalid", warnings.DateInvalid),
		)
	}

	est := estimate.EstimateCompletion(records)
	adjusted, stats := p.adjuster(est).AdjustAll(records, est)

	if p.Metrics != nil {
		for kind, n := range warnings.ByKind {
			p.Metrics.MalformedRows.WithLabelValues(string(kind)).Add(float64(n))
		}
		p.Metrics.DatasetRecords.Set(float64(len(records)))
	}

	log.Info("pipeline: dataset built",
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)),
		zap.Float64("global_completion_pct", est.Global),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Dataset{
		Records:     records,
		Adjusted:    adjusted,
		Estimate:    est,
		Warnings:    warnings,
		AdjustStats: stats,
		BuiltAt:     time.Now().UTC(),
	}
}

func (p *Pipeline) canonicalize(r *model.CourseRecord) {
	r.CanonicalInstitutionName = p.Canonicalizer.Canonicalize(r.RawInstitutionName)
	if r.PartnerInstitutionName != "" {
		r.CanonicalPartnerName = p.Canonicalizer.Canonicalize(r.PartnerInstitutionName)
	}
}

// adjuster returns the configured Adjuster, or a copy whose institution rates
// are extended with the dataset's own when UseInstitutionRate is set.
func (p *Pipeline) adjuster(est estimate.CompletionEstimate) *estimate.Adjuster {
	if !p.UseInstitutionRate {
		return p.Adjuster
	}
	a := *p.Adjuster
	rates := make(map[string]float64, len(est.ByInstitution)+len(a.InstitutionRates))
	for k, v := range est.ByInstitution {
		rates[k] = v
	}
	for k, v := range p.Adjuster.InstitutionRates {
		rates[k] = v
	}
	a.InstitutionRates = rates
	return &a
}

func buildWarnings(rows int, records []model.CourseRecord, issues []normalize.Issue) WarningReport {
	w := WarningReport{
		Rows:    rows,
		ByKind:  make(map[normalize.IssueKind]int),
		ByField: make(map[string]int),
	}
	malformed := make(map[int]bool)
	for _, is := range issues {
		malformed[is.Row] = true
		w.ByKind[is.Kind]++
		w.ByField[is.Field]++
	}
	w.MalformedRows = len(malformed)
	for _, r := range records {
		if r.DateInvalid {
			w.DateInvalid++
		}
	}
	if len(issues) > maxKeptIssues {
		issues = issues[:maxKeptIssues]
	}
	w.Issues = append([]normalize.Issue(nil), issues...)
	return w
}

// TopFields returns the fields with the most issues, most frequent first.
func (w WarningReport) TopFields(n int) []string {
	fields := make([]string, 0, len(w.ByField))
	for f := range w.ByField {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		if w.ByField[fields[i]] != w.ByField[fields[j]] {
			return w.ByField[fields[i]] > w.ByField[fields[j]]
		}
		return fields[i] < fields[j]
	})
	if n > 0 && len(fields) > n {
		fields = fields[:n]
	}
	return fields
}
