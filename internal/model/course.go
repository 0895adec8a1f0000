package model

import (
	"strings"
	"time"
)

// Supported revenue years. Each year has its own revenue column in the source CSV.
const (
	FirstSupportedYear = 2021
	LastSupportedYear  = 2026
)

// SupportedYears lists the fixed yearly revenue columns in ascending order.
var SupportedYears = func() []int {
	years := make([]int, 0, LastSupportedYear-FirstSupportedYear+1)
	for y := FirstSupportedYear; y <= LastSupportedYear; y++ {
		years = append(years, y)
	}
	return years
}()

// IsSupportedYear reports whether y has a revenue column.
func IsSupportedYear(y int) bool {
	return y >= FirstSupportedYear && y <= LastSupportedYear
}

// Training-type tags assigned during normalization. A record can carry several.
const (
	TagLeadingCompany     = "leading-company-sponsored"
	TagIncumbentWorker    = "incumbent-worker"
	TagUniversityLed      = "university-led"
	TagAdvanced           = "advanced"
	TagConvergence        = "convergence"
	TagEmergingTechnology = "emerging-technology"
)

// CourseRecord is one normalized training offering (one CSV row).
// Records are never mutated after normalization; adjustment and aggregation
// produce derived values instead.
type CourseRecord struct {
	UniqueID    string `json:"unique_id"`
	CourseID    string `json:"course_id,omitempty"`
	CourseName  string `json:"course_name"`
	CohortLabel string `json:"cohort_label,omitempty"`

	RawInstitutionName       string `json:"raw_institution_name"`
	CanonicalInstitutionName string `json:"canonical_institution_name"`
	PartnerInstitutionName   string `json:"partner_institution_name,omitempty"`
	CanonicalPartnerName     string `json:"canonical_partner_name,omitempty"`
	SponsoringCompanyName    string `json:"sponsoring_company_name,omitempty"`
	IsLeadingCompanyCourse   bool   `json:"is_leading_company_course"`

	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	DurationDays  int       `json:"duration_days"`
	DurationHours int       `json:"duration_hours"`
	DateInvalid   bool      `json:"date_invalid,omitempty"`

	Capacity          int     `json:"capacity"`
	EnrolledCount     int     `json:"enrolled_count"`
	CompletedCount    int     `json:"completed_count"`
	CompletionRatePct float64 `json:"completion_rate_pct"`
	SatisfactionScore float64 `json:"satisfaction_score"`

	BaselineRevenue float64         `json:"baseline_revenue"`
	MinRevenue      float64         `json:"min_revenue"`
	MaxRevenue      float64         `json:"max_revenue"`
	YearlyRevenue   map[int]float64 `json:"yearly_revenue"`

	TrainingTypeTags []string `json:"training_type_tags"`
	NCSCode          string   `json:"ncs_code,omitempty"`
	NCSName          string   `json:"ncs_name,omitempty"`
	TrainingYear     int      `json:"training_year"`

	RowIndex int               `json:"row_index"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// CourseKey returns the course identity: the explicit course ID when present,
// otherwise the course name.
func (r CourseRecord) CourseKey() string {
	if r.CourseID != "" {
		return r.CourseID
	}
	return r.CourseName
}

// YearlyRevenueSum sums the fixed yearly revenue columns.
func (r CourseRecord) YearlyRevenueSum() float64 {
	var sum float64
	for _, y := range SupportedYears {
		sum += r.YearlyRevenue[y]
	}
	return sum
}

// RevenueFloor is the lower end of the revenue band: the baseline figure,
// or the yearly column sum when no baseline was reported.
func (r CourseRecord) RevenueFloor() float64 {
	if r.BaselineRevenue > 0 {
		return r.BaselineRevenue
	}
	return r.YearlyRevenueSum()
}

// HasTag reports whether the record carries the given training-type tag.
func (r CourseRecord) HasTag(tag string) bool {
	for _, t := range r.TrainingTypeTags {
		if t == tag {
			return true
		}
	}
	return false
}

// StartYear returns the calendar year of the start date, or 0 when unset.
func (r CourseRecord) StartYear() int {
	if r.StartDate.IsZero() {
		return 0
	}
	return r.StartDate.Year()
}

// EndYear returns the calendar year of the end date, falling back to the start year.
func (r CourseRecord) EndYear() int {
	if r.EndDate.IsZero() {
		return r.StartYear()
	}
	return r.EndDate.Year()
}

// IsCrossYear reports whether the course starts and ends in different years.
func (r CourseRecord) IsCrossYear() bool {
	return r.StartYear() != 0 && r.StartYear() != r.EndYear()
}

// PartnerKey returns the partner institution when the record is a
// leading-company course delivered by a distinct partner. The canonical
// partner name is preferred when one was resolved.
func (r CourseRecord) PartnerKey() string {
	p := strings.TrimSpace(r.PartnerInstitutionName)
	if !r.IsLeadingCompanyCourse || p == "" || p == "0" {
		return ""
	}
	if r.CanonicalPartnerName != "" {
		p = r.CanonicalPartnerName
	}
	if p == r.CanonicalInstitutionName || p == r.RawInstitutionName {
		return ""
	}
	return p
}

// InstitutionKey is the institution bucket a record counts toward: the
// delivering partner for leading-company courses, otherwise the canonical
// institution name.
func (r CourseRecord) InstitutionKey() string {
	if p := r.PartnerKey(); p != "" {
		return p
	}
	if r.CanonicalInstitutionName != "" {
		return r.CanonicalInstitutionName
	}
	return r.RawInstitutionName
}

// RateSource names where an effective completion rate came from.
type RateSource string

const (
	RateActual      RateSource = "actual"
	RateCourse      RateSource = "course"
	RateCourseParam RateSource = "course_param"
	RateInstitution RateSource = "institution"
	RateGlobal      RateSource = "global"
	RateNone        RateSource = "none"    // no rate at any level
	RateSkipped     RateSource = "skipped" // zero revenue or zero enrollment
)

// AdjustedCourseRecord is a CourseRecord with completion-adjusted revenue.
type AdjustedCourseRecord struct {
	CourseRecord

	AdjustedTotalRevenue    float64         `json:"adjusted_total_revenue"`
	AdjustedYearlyRevenue   map[int]float64 `json:"adjusted_yearly_revenue"`
	IsFirstOffering         bool            `json:"is_first_offering"`
	EffectiveCompletionRate float64         `json:"effective_completion_rate"`
	RateSource              RateSource      `json:"rate_source"`
}
