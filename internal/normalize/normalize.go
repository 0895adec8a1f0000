// Package normalize converts raw CSV rows into typed course records.
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/training-stats/internal/model"
)

// Row is one raw input row keyed by trimmed header name.
type Row map[string]string

// Source column names.
const (
	ColUniqueID      = "고유값"
	ColCourseID      = "훈련과정ID"
	ColCourseName    = "과정명"
	ColCohort        = "회차"
	ColInstitution   = "훈련기관"
	ColPartner       = "파트너기관"
	ColSponsor       = "선도기업"
	ColStartDate     = "훈련시작일"
	ColEndDate       = "훈련종료일"
	ColTotalDays     = "총훈련일수"
	ColTotalHours    = "총훈련시간"
	ColCapacity      = "정원"
	ColEnrolled      = "수강신청인원"
	ColCompleted     = "수료인원"
	ColCompletion    = "수료율"
	ColSatisfaction  = "만족도"
	ColBaseline      = "실 매출 대비"
	ColMaxRevenue    = "최대매출"
	ColNCSCode       = "NCS코드"
	ColNCSName       = "NCS명"
	ColTrainingYear  = "훈련연도"
	ColTrainingTypes = "훈련유형"
)

// YearColumn returns the revenue column name for a supported year.
func YearColumn(year int) string {
	return fmt.Sprintf("%d년 매출", year)
}

// RequiredColumns are the fields a row must carry to count as well-formed.
var RequiredColumns = []string{ColCourseName, ColInstitution, ColStartDate}

var knownColumns = func() map[string]bool {
	m := map[string]bool{}
	for _, c := range []string{
		ColUniqueID, ColCourseID, ColCourseName, ColCohort, ColInstitution, ColPartner,
		ColSponsor, ColStartDate, ColEndDate, ColTotalDays, ColTotalHours, ColCapacity,
		ColEnrolled, ColCompleted, ColCompletion, ColSatisfaction, ColBaseline,
		ColMaxRevenue, ColNCSCode, ColNCSName, ColTrainingYear, ColTrainingTypes,
	} {
		m[c] = true
	}
	for _, y := range model.SupportedYears {
		m[YearColumn(y)] = true
	}
	return m
}()

// IsKnownColumn reports whether the normalizer reads the named column. Other
// columns are carried through to CourseRecord.Extra.
func IsKnownColumn(name string) bool {
	return knownColumns[name]
}

// Classification markers. Matching is plain substring containment.
var (
	incumbentMarkers   = []string{"재직자"}
	universityMarkers  = []string{"대학", "학교"}
	advancedMarkers    = []string{"심화"}
	convergenceMarkers = []string{"융합"}
)

// hoursPerDay converts a day count to training hours when no explicit figure exists.
const hoursPerDay = 8

// DateFallback decides what happens to a date cell that does not parse.
type DateFallback string

const (
	// FallbackFlag leaves the date zero and marks the record DateInvalid so it
	// is excluded from rate estimation and aggregation.
	FallbackFlag DateFallback = "flag"
	// FallbackToday substitutes the current date.
	FallbackToday DateFallback = "today"
)

// ParseDateFallback converts a config string into a DateFallback.
func ParseDateFallback(s string) (DateFallback, error) {
	switch DateFallback(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackFlag:
		return FallbackFlag, nil
	case FallbackToday:
		return FallbackToday, nil
	default:
		return "", eris.Errorf("normalize: unknown date fallback %q (valid: flag, today)", s)
	}
}

// IssueKind classifies a data-quality problem found in a row.
type IssueKind string

const (
	IssueMissingField IssueKind = "missing_field"
	IssueBadNumber    IssueKind = "bad_number"
	IssueBadDate      IssueKind = "bad_date"
)

// Issue describes one malformed cell. Issues never stop normalization.
type Issue struct {
	Row   int       `json:"row"`
	Field string    `json:"field"`
	Value string    `json:"value,omitempty"`
	Kind  IssueKind `json:"kind"`
}

// Normalizer turns raw rows into CourseRecords. The zero value uses the
// FallbackFlag policy and the wall clock.
type Normalizer struct {
	DateFallback DateFallback
	Now          func() time.Time
}

// New creates a Normalizer with the given date fallback policy.
func New(fallback DateFallback) *Normalizer {
	return &Normalizer{DateFallback: fallback}
}

func (n *Normalizer) today() time.Time {
	now := time.Now()
	if n.Now != nil {
		now = n.Now()
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeAll normalizes every row, assigning row indexes and fallback
// unique IDs. Issues from all rows are returned in row order.
func (n *Normalizer) NormalizeAll(rows []Row) ([]model.CourseRecord, []Issue) {
	records := make([]model.CourseRecord, 0, len(rows))
	var issues []Issue
	for i, row := range rows {
		rec, rowIssues := n.normalize(row, i)
		records = append(records, rec)
		issues = append(issues, rowIssues...)
	}
	return records, issues
}

// Normalize converts a single row. It has no side effects and never fails;
// problems are reported as Issues.
func (n *Normalizer) Normalize(row Row) (model.CourseRecord, []Issue) {
	return n.normalize(row, 0)
}

func (n *Normalizer) normalize(row Row, index int) (model.CourseRecord, []Issue) {
	var issues []Issue
	get := func(col string) string { return strings.TrimSpace(row[col]) }
	report := func(col string, kind IssueKind) {
		issues = append(issues, Issue{Row: index, Field: col, Value: get(col), Kind: kind})
	}
	count := func(col string) int {
		v, ok := parseCount(get(col))
		if !ok {
			report(col, IssueBadNumber)
		}
		return v
	}
	number := func(col string) float64 {
		v, ok := parseNumberOK(get(col))
		if !ok {
			report(col, IssueBadNumber)
		}
		return v
	}

	for _, col := range RequiredColumns {
		if get(col) == "" {
			report(col, IssueMissingField)
		}
	}

	rec := model.CourseRecord{
		UniqueID:               get(ColUniqueID),
		CourseID:               get(ColCourseID),
		CourseName:             get(ColCourseName),
		CohortLabel:            get(ColCohort),
		RawInstitutionName:     get(ColInstitution),
		PartnerInstitutionName: get(ColPartner),
		SponsoringCompanyName:  get(ColSponsor),
		NCSCode:                get(ColNCSCode),
		NCSName:                get(ColNCSName),
		RowIndex:               index,
	}
	if rec.UniqueID == "" {
		rec.UniqueID = fmt.Sprintf("row-%d", index)
	}
	rec.CanonicalInstitutionName = rec.RawInstitutionName

	// Schedule.
	start, startOK := n.date(get(ColStartDate), ColStartDate, report)
	var end time.Time
	endOK := false
	if isBlankValue(get(ColEndDate)) && startOK {
		end, endOK = start, true
	} else {
		end, endOK = n.date(get(ColEndDate), ColEndDate, report)
	}
	rec.StartDate, rec.EndDate = start, end
	rec.DateInvalid = !startOK || !endOK

	if v := get(ColTotalDays); !isBlankValue(v) {
		rec.DurationDays = count(ColTotalDays)
	} else if startOK && endOK {
		rec.DurationDays = int(math.Max(0, math.Ceil(end.Sub(start).Hours()/24)))
	}
	if v := get(ColTotalHours); !isBlankValue(v) {
		rec.DurationHours = count(ColTotalHours)
	} else {
		rec.DurationHours = rec.DurationDays * hoursPerDay
	}

	// Enrollment.
	rec.Capacity = count(ColCapacity)
	rec.EnrolledCount = count(ColEnrolled)
	rec.CompletedCount = count(ColCompleted)
	if v := get(ColCompletion); !isBlankValue(v) {
		rec.CompletionRatePct = number(ColCompletion)
	} else if rec.EnrolledCount > 0 {
		rec.CompletionRatePct = float64(rec.CompletedCount) / float64(rec.EnrolledCount) * 100
	}
	rec.SatisfactionScore = number(ColSatisfaction)

	// Revenue.
	rec.YearlyRevenue = make(map[int]float64, len(model.SupportedYears))
	for _, y := range model.SupportedYears {
		rec.YearlyRevenue[y] = number(YearColumn(y))
	}
	rec.BaselineRevenue = number(ColBaseline)
	rec.MinRevenue = rec.RevenueFloor()
	rec.MaxRevenue = number(ColMaxRevenue)
	if rec.MaxRevenue <= 0 {
		rec.MaxRevenue = math.Max(rec.MaxRevenue, rec.MinRevenue)
	}

	// Taxonomy.
	rec.TrainingYear = start.Year()
	if start.IsZero() {
		rec.TrainingYear = 0
	}
	if v := get(ColTrainingYear); !isBlankValue(v) {
		if y := count(ColTrainingYear); y > 0 {
			rec.TrainingYear = y
		}
	}
	rec.IsLeadingCompanyCourse = isPresent(rec.PartnerInstitutionName) && isPresent(rec.SponsoringCompanyName)
	rec.TrainingTypeTags = classify(rec, get(ColTrainingTypes))

	for col, v := range row {
		if knownColumns[col] {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[col] = v
	}

	return rec, issues
}

// date parses a date cell and applies the fallback policy on failure.
// Non-empty cells that fail to parse are always reported, whatever the policy.
// ok is false when no usable date was produced.
func (n *Normalizer) date(s, col string, report func(string, IssueKind)) (time.Time, bool) {
	t, err := ParseDate(s)
	if err == nil {
		return t, true
	}
	if !isBlankValue(s) {
		report(col, IssueBadDate)
	}
	if n.DateFallback == FallbackToday {
		return n.today(), true
	}
	return time.Time{}, false
}

// classify accumulates training-type tags in a fixed order. Explicit tags from
// the source are appended after the derived ones.
func classify(rec model.CourseRecord, explicit string) []string {
	var tags []string
	if isPresent(rec.PartnerInstitutionName) {
		tags = append(tags, model.TagLeadingCompany)
	}
	if containsAny(rec.CourseName, incumbentMarkers) {
		tags = append(tags, model.TagIncumbentWorker)
	}
	if containsAny(rec.RawInstitutionName, universityMarkers) {
		tags = append(tags, model.TagUniversityLed)
	}
	if containsAny(rec.CourseName, advancedMarkers) {
		tags = append(tags, model.TagAdvanced)
	}
	if containsAny(rec.CourseName, convergenceMarkers) {
		tags = append(tags, model.TagConvergence)
	}

	for _, t := range strings.FieldsFunc(explicit, func(r rune) bool { return r == ',' || r == '|' || r == '/' }) {
		t = strings.TrimSpace(t)
		if t == "" || contains(tags, t) {
			continue
		}
		tags = append(tags, t)
	}

	if len(tags) == 0 {
		tags = append(tags, model.TagEmergingTechnology)
	}
	return tags
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
