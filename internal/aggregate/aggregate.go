package aggregate

import (
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/training-stats/internal/model"
)

// Unclassified is the NCS bucket for records without a taxonomy code or name.
const Unclassified = "미분류"

// Unknown is the course and institution bucket for records that carry no
// course identity or no institution name.
const Unknown = "미상"

func institutionBucket(r model.CourseRecord) string {
	if k := r.InstitutionKey(); k != "" {
		return k
	}
	return Unknown
}

// keyFunc maps a counted record to its group key and display name. An empty
// key drops the record from the dimension; only non-exhaustive dimensions
// return one.
type keyFunc func(r model.AdjustedCourseRecord, f Filter) (key, name string)

// accumulator collects one group. Rates and averages are derived from the
// primary members only.
type accumulator struct {
	group model.AggregatedGroup

	satWeighted float64
	satWeight   float64
	rateEnroll  int
	rateDone    int
	tags        map[string]struct{}
	nameAt      time.Time
	spill       model.Subtotal
}

func (a *accumulator) add(r model.AdjustedCourseRecord, s share, f Filter, name string) {
	g := &a.group
	rev := f.revenue(r, s)

	// The most recent offering names the group, spillover members included;
	// the first seen wins ties.
	if g.DisplayName == "" || r.StartDate.After(a.nameAt) {
		g.DisplayName = name
		a.nameAt = r.StartDate
	}

	if s == shareSpillover {
		a.spill.MemberCount++
		a.spill.TotalEnrolled += r.EnrolledCount
		a.spill.TotalCompleted += r.CompletedCount
		a.spill.TotalRevenue += rev
		if f.IncludeMembers {
			g.MemberRecords = append(g.MemberRecords, r)
		}
		return
	}

	g.MemberCount++
	g.TotalEnrolled += r.EnrolledCount
	g.TotalCompleted += r.CompletedCount
	g.TotalRevenue += rev

	if r.SatisfactionScore > 0 && r.EnrolledCount > 0 {
		a.satWeighted += r.SatisfactionScore * float64(r.EnrolledCount)
		a.satWeight += float64(r.EnrolledCount)
	}
	if r.EnrolledCount > 0 && r.CompletedCount > 0 {
		a.rateEnroll += r.EnrolledCount
		a.rateDone += r.CompletedCount
	}
	for _, t := range r.TrainingTypeTags {
		a.tags[t] = struct{}{}
	}
	if g.EarliestStart.IsZero() || r.StartDate.Before(g.EarliestStart) {
		g.EarliestStart = r.StartDate
	}
	if r.EndDate.After(g.LatestEnd) {
		g.LatestEnd = r.EndDate
	}
	if f.IncludeMembers {
		g.MemberRecords = append(g.MemberRecords, r)
	}
}

func (a *accumulator) finish(withSpillover bool) model.AggregatedGroup {
	g := a.group
	g.AverageSatisfaction = ratio(a.satWeighted, a.satWeight)
	g.AverageCompletionRatePct = ratio(float64(a.rateDone), float64(a.rateEnroll)) * 100
	g.UnfilteredCompletionRatePct = ratio(float64(g.TotalCompleted), float64(g.TotalEnrolled)) * 100

	g.TrainingTypeTagsUnion = make([]string, 0, len(a.tags))
	for t := range a.tags {
		g.TrainingTypeTagsUnion = append(g.TrainingTypeTagsUnion, t)
	}
	sort.Strings(g.TrainingTypeTagsUnion)

	if withSpillover {
		spill := a.spill
		g.Spillover = &spill
		g.PrevYearStudents = spill.TotalEnrolled
	}
	if g.DisplayName == "" {
		g.DisplayName = g.Key
	}
	return g
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// group runs one aggregation pass. Records are read, never modified.
func group(dim model.Dimension, records []model.AdjustedCourseRecord, f Filter, keyOf keyFunc) []model.AggregatedGroup {
	accs := make(map[string]*accumulator)
	var order []string

	for _, r := range records {
		s := f.classify(r.CourseRecord)
		if s == shareNone {
			continue
		}
		key, name := keyOf(r, f)
		if key == "" {
			continue
		}
		acc, ok := accs[key]
		if !ok {
			acc = &accumulator{
				group: model.AggregatedGroup{Dimension: dim, Key: key},
				tags:  make(map[string]struct{}),
			}
			accs[key] = acc
			order = append(order, key)
		}
		acc.add(r, s, f, name)
	}

	out := make([]model.AggregatedGroup, 0, len(order))
	for _, k := range order {
		out = append(out, accs[k].finish(f.Year != 0))
	}
	sortGroups(out)
	return out
}

// sortGroups orders by revenue descending, then key ascending.
func sortGroups(groups []model.AggregatedGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].TotalRevenue != groups[j].TotalRevenue {
			return groups[i].TotalRevenue > groups[j].TotalRevenue
		}
		return groups[i].Key < groups[j].Key
	})
}

// ByCourse groups offerings by course identity (course ID, else name). The
// display name is the name of the most recently started offering, since
// institutions rename recurring courses mid-series.
func ByCourse(records []model.AdjustedCourseRecord, f Filter) []model.AggregatedGroup {
	return group(model.DimensionCourse, records, f, func(r model.AdjustedCourseRecord, _ Filter) (string, string) {
		k := r.CourseKey()
		if k == "" {
			return Unknown, Unknown
		}
		return k, r.CourseName
	})
}

// ByInstitution groups by canonical institution. Leading-company courses
// delivered by a distinct partner count toward the partner. Records without
// any institution name land in Unknown.
func ByInstitution(records []model.AdjustedCourseRecord, f Filter) []model.AggregatedGroup {
	return group(model.DimensionInstitution, records, f, func(r model.AdjustedCourseRecord, _ Filter) (string, string) {
		k := institutionBucket(r.CourseRecord)
		return k, k
	})
}

// ByYear groups by the basis-date year. Under a year filter, spillover
// courses fold into the filtered year's group.
func ByYear(records []model.AdjustedCourseRecord, f Filter) []model.AggregatedGroup {
	return group(model.DimensionYear, records, f, func(r model.AdjustedCourseRecord, f Filter) (string, string) {
		y := f.basisDate(r.CourseRecord).Year()
		if f.Year != 0 {
			y = f.Year
		}
		k := strconv.Itoa(y)
		return k, k
	})
}

// ByMonth groups by the basis-date month, keyed "YYYY-MM".
func ByMonth(records []model.AdjustedCourseRecord, f Filter) []model.AggregatedGroup {
	return group(model.DimensionMonth, records, f, func(r model.AdjustedCourseRecord, f Filter) (string, string) {
		k := f.basisDate(r.CourseRecord).Format("2006-01")
		return k, k
	})
}

// ByNCS groups by NCS code, falling back to the NCS name.
func ByNCS(records []model.AdjustedCourseRecord, f Filter) []model.AggregatedGroup {
	return group(model.DimensionNCS, records, f, func(r model.AdjustedCourseRecord, _ Filter) (string, string) {
		switch {
		case r.NCSCode != "" && r.NCSName != "":
			return r.NCSCode, r.NCSName
		case r.NCSCode != "":
			return r.NCSCode, r.NCSCode
		case r.NCSName != "":
			return r.NCSName, r.NCSName
		}
		return Unclassified, Unclassified
	})
}

// ByLeadingCompany groups leading-company courses by sponsoring company.
// Other records are left out, so this dimension is not exhaustive.
func ByLeadingCompany(records []model.AdjustedCourseRecord, f Filter) []model.AggregatedGroup {
	return group(model.DimensionLeadingCompany, records, f, func(r model.AdjustedCourseRecord, _ Filter) (string, string) {
		if !r.IsLeadingCompanyCourse {
			return "", ""
		}
		return r.SponsoringCompanyName, r.SponsoringCompanyName
	})
}

// Group dispatches to the grouping function for dim.
func Group(dim model.Dimension, records []model.AdjustedCourseRecord, f Filter) ([]model.AggregatedGroup, error) {
	switch dim {
	case model.DimensionCourse:
		return ByCourse(records, f), nil
	case model.DimensionInstitution:
		return ByInstitution(records, f), nil
	case model.DimensionYear:
		return ByYear(records, f), nil
	case model.DimensionMonth:
		return ByMonth(records, f), nil
	case model.DimensionNCS:
		return ByNCS(records, f), nil
	case model.DimensionLeadingCompany:
		return ByLeadingCompany(records, f), nil
	}
	return nil, eris.Errorf("aggregate: unknown dimension %q", dim)
}
