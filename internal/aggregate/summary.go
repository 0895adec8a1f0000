package aggregate

import (
	"sort"

	"github.com/sells-group/training-stats/internal/model"
)

// Totals is the dataset-wide headline for one filter.
type Totals struct {
	CourseCount      int             `json:"courseCount"`
	InstitutionCount int             `json:"institutionCount"`
	TotalEnrolled    int             `json:"totalStudents"`
	TotalCompleted   int             `json:"completedStudents"`
	TotalRevenue     float64         `json:"totalRevenue"`
	CompletionRate   float64         `json:"completionRate"`
	AvgSatisfaction  float64         `json:"avgSatisfaction"`
	Spillover        *model.Subtotal `json:"spillover,omitempty"`
}

// Summary folds every counted record into a single group.
func Summary(records []model.AdjustedCourseRecord, f Filter) Totals {
	f.IncludeMembers = false
	insts := make(map[string]struct{})
	groups := group("", records, f, func(r model.AdjustedCourseRecord, f Filter) (string, string) {
		if f.classify(r.CourseRecord) == sharePrimary {
			insts[institutionBucket(r.CourseRecord)] = struct{}{}
		}
		return "all", ""
	})
	if len(groups) == 0 {
		return Totals{}
	}
	g := groups[0]
	return Totals{
		CourseCount:      g.MemberCount,
		InstitutionCount: len(insts),
		TotalEnrolled:    g.TotalEnrolled,
		TotalCompleted:   g.TotalCompleted,
		TotalRevenue:     g.TotalRevenue,
		CompletionRate:   g.AverageCompletionRatePct,
		AvgSatisfaction:  g.AverageSatisfaction,
		Spillover:        g.Spillover,
	}
}

// RawNameCount is one pre-canonicalization spelling feeding a bucket.
type RawNameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// InstitutionDetail lists the raw institution names folded into one
// institution bucket.
type InstitutionDetail struct {
	Name         string         `json:"name"`
	CourseCount  int            `json:"courseCount"`
	TotalRevenue float64        `json:"totalRevenue"`
	RawNames     []RawNameCount `json:"rawNames"`
}

// InstitutionDetails drills into the institution dimension. Raw names are
// ordered by count descending, then name.
func InstitutionDetails(records []model.AdjustedCourseRecord, f Filter) []InstitutionDetail {
	type bucket struct {
		detail InstitutionDetail
		raw    map[string]int
	}
	buckets := make(map[string]*bucket)

	for _, r := range records {
		s := f.classify(r.CourseRecord)
		if s != sharePrimary {
			continue
		}
		key := institutionBucket(r.CourseRecord)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{detail: InstitutionDetail{Name: key}, raw: make(map[string]int)}
			buckets[key] = b
		}
		b.detail.CourseCount++
		b.detail.TotalRevenue += f.revenue(r, s)

		raw := r.RawInstitutionName
		if r.PartnerKey() != "" {
			raw = r.PartnerInstitutionName
		}
		b.raw[raw]++
	}

	out := make([]InstitutionDetail, 0, len(buckets))
	for _, b := range buckets {
		d := b.detail
		for name, n := range b.raw {
			d.RawNames = append(d.RawNames, RawNameCount{Name: name, Count: n})
		}
		sort.Slice(d.RawNames, func(i, j int) bool {
			if d.RawNames[i].Count != d.RawNames[j].Count {
				return d.RawNames[i].Count > d.RawNames[j].Count
			}
			return d.RawNames[i].Name < d.RawNames[j].Name
		})
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRevenue != out[j].TotalRevenue {
			return out[i].TotalRevenue > out[j].TotalRevenue
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// YearTotal is the revenue booked in one supported year.
type YearTotal struct {
	Year    int     `json:"year"`
	Revenue float64 `json:"revenue"`
}

// YearlyRevenueTotals sums the per-year revenue columns over valid records, in
// year order. RevenueMax sums the unadjusted columns.
func YearlyRevenueTotals(records []model.AdjustedCourseRecord, mode model.RevenueMode) []YearTotal {
	out := make([]YearTotal, len(model.SupportedYears))
	for i, y := range model.SupportedYears {
		out[i].Year = y
	}
	for _, r := range records {
		if r.DateInvalid {
			continue
		}
		for i, y := range model.SupportedYears {
			if mode == model.RevenueMax {
				out[i].Revenue += r.YearlyRevenue[y]
			} else {
				out[i].Revenue += r.AdjustedYearlyRevenue[y]
			}
		}
	}
	return out
}
