package estimate

import (
	"math"

	"github.com/Rhymond/go-money"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/model"
)

// Curve parameterizes the exponential interpolation
// factor = 1 - Base^(-Steepness * rate).
type Curve struct {
	Base      float64 `json:"base"`
	Steepness float64 `json:"steepness"`
}

// DefaultCurve is a = 2, b = 2.
var DefaultCurve = Curve{Base: 2, Steepness: 2}

// Factor returns the share of the revenue band earned at the given completion
// rate (a fraction, not a percent). Factor(0) is 0 and Factor grows toward 1
// without reaching it.
func (c Curve) Factor(rate float64) float64 {
	return 1 - math.Pow(c.Base, -c.Steepness*rate)
}

// Validate checks that the curve is increasing in rate.
func (c Curve) Validate() error {
	if c.Base <= 1 {
		return eris.Errorf("estimate: curve base must be > 1, got %v", c.Base)
	}
	if c.Steepness <= 0 {
		return eris.Errorf("estimate: curve steepness must be > 0, got %v", c.Steepness)
	}
	return nil
}

// YearlyMode selects how the per-year revenue columns are adjusted.
type YearlyMode string

const (
	// YearlyIndependent runs each year through the band formula with the year
	// figure as both ends of its own band, which leaves it unchanged.
	YearlyIndependent YearlyMode = "independent"
	// YearlyProrate scales each year figure by adjustedTotal / revenue floor so
	// the years carry the same adjustment as the total.
	YearlyProrate YearlyMode = "prorate"
)

// ParseYearlyMode validates a configured yearly mode. Empty means independent.
func ParseYearlyMode(s string) (YearlyMode, error) {
	switch YearlyMode(s) {
	case "", YearlyIndependent:
		return YearlyIndependent, nil
	case YearlyProrate:
		return YearlyProrate, nil
	}
	return "", eris.Errorf("estimate: unknown yearly mode %q", s)
}

// Adjuster converts a record's revenue band into a single completion-adjusted
// figure. The rate maps hold percentages supplied from outside the dataset and
// are consulted after the dataset's own per-course rate.
type Adjuster struct {
	Curve            Curve
	CourseRates      map[string]float64 // course identity -> completion %
	InstitutionRates map[string]float64 // institution key -> completion %
	YearlyMode       YearlyMode
}

// NewAdjuster returns an Adjuster with the default curve and independent yearly mode.
func NewAdjuster() *Adjuster {
	return &Adjuster{Curve: DefaultCurve, YearlyMode: YearlyIndependent}
}

// AdjustStats summarizes one AdjustAll pass.
type AdjustStats struct {
	Records               int                      `json:"records"`
	Adjusted              int                      `json:"adjusted"`
	ShortCircuited        int                      `json:"short_circuited"`
	EstimationUnavailable int                      `json:"estimation_unavailable"`
	FirstOfferings        int                      `json:"first_offerings"`
	BySource              map[model.RateSource]int `json:"by_source"`
}

// Adjust computes the completion-adjusted total and yearly revenue of one
// record. It never fails: missing inputs are already zero after
// normalization, so the worst case is a zero adjusted revenue.
func (a *Adjuster) Adjust(r model.CourseRecord, est CompletionEstimate, isFirstOffering bool) model.AdjustedCourseRecord {
	out := model.AdjustedCourseRecord{
		CourseRecord:          r,
		IsFirstOffering:       isFirstOffering,
		AdjustedYearlyRevenue: make(map[int]float64, len(model.SupportedYears)),
	}

	lo := r.RevenueFloor()
	hi := r.MaxRevenue
	if hi <= 0 || hi < lo {
		hi = lo
	}

	if lo == 0 || r.EnrolledCount == 0 {
		out.AdjustedTotalRevenue = lo
		out.RateSource = model.RateSkipped
	} else {
		rate, src := a.effectiveRate(r, est, isFirstOffering)
		out.EffectiveCompletionRate = rate
		out.RateSource = src
		out.AdjustedTotalRevenue = lo + (hi-lo)*a.curve().Factor(rate)
	}

	for _, y := range model.SupportedYears {
		v := r.YearlyRevenue[y]
		if a.YearlyMode == YearlyProrate && lo > 0 {
			out.AdjustedYearlyRevenue[y] = v * out.AdjustedTotalRevenue / lo
			continue
		}
		// min == max == v, so the band collapses to the year figure.
		out.AdjustedYearlyRevenue[y] = v
	}
	return out
}

func (a *Adjuster) curve() Curve {
	if a.Curve == (Curve{}) {
		return DefaultCurve
	}
	return a.Curve
}

// effectiveRate returns the completion fraction used for interpolation. Actual
// completions are trusted only when the record is not the first offering of
// its course; otherwise the fallback chain is walked: dataset per-course rate,
// supplied course rate, supplied institution rate, dataset global rate.
func (a *Adjuster) effectiveRate(r model.CourseRecord, est CompletionEstimate, isFirstOffering bool) (float64, model.RateSource) {
	if r.CompletedCount > 0 && !isFirstOffering {
		return float64(r.CompletedCount) / float64(r.EnrolledCount), model.RateActual
	}
	if r.CourseID != "" {
		if pct, ok := est.ByCourseID[r.CourseID]; ok {
			return pct / 100, model.RateCourse
		}
	}
	if pct, ok := a.CourseRates[r.CourseKey()]; ok {
		return pct / 100, model.RateCourseParam
	}
	if pct, ok := a.InstitutionRates[r.InstitutionKey()]; ok {
		return pct / 100, model.RateInstitution
	}
	if est.Global > 0 {
		return est.Global / 100, model.RateGlobal
	}
	return 0, model.RateNone
}

// AdjustAll detects first offerings and adjusts every record against one
// completion snapshot. Output order matches input order.
func (a *Adjuster) AdjustAll(records []model.CourseRecord, est CompletionEstimate) ([]model.AdjustedCourseRecord, AdjustStats) {
	first := FirstOfferings(records)
	out := make([]model.AdjustedCourseRecord, len(records))
	stats := AdjustStats{Records: len(records), BySource: make(map[model.RateSource]int)}

	for i, r := range records {
		adj := a.Adjust(r, est, first[i])
		out[i] = adj
		stats.BySource[adj.RateSource]++
		if first[i] {
			stats.FirstOfferings++
		}
		switch adj.RateSource {
		case model.RateSkipped:
			stats.ShortCircuited++
		case model.RateNone:
			stats.EstimationUnavailable++
		default:
			stats.Adjusted++
		}
	}

	zap.L().Info("estimate: revenue adjusted",
		zap.Int("records", stats.Records),
		zap.Int("adjusted", stats.Adjusted),
		zap.Int("short_circuited", stats.ShortCircuited),
		zap.Int("estimation_unavailable", stats.EstimationUnavailable),
		zap.Float64("global_rate", est.Global),
		zap.String("yearly_mode", string(a.YearlyMode)),
	)
	if stats.EstimationUnavailable > 0 {
		zap.L().Warn("estimate: no completion rate at any level, adjusted with rate 0",
			zap.Int("records", stats.EstimationUnavailable),
		)
	}

	return out, stats
}

// FormatRevenue formats a won amount for display, e.g. "₩15,000,000".
// Amounts are rounded to the nearest won.
func FormatRevenue(amount float64) string {
	return money.New(int64(math.Round(amount)), money.KRW).Display()
}
