package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Dimension is an aggregation axis.
type Dimension string

const (
	DimensionCourse         Dimension = "course"
	DimensionInstitution    Dimension = "institution"
	DimensionYear           Dimension = "year"
	DimensionMonth          Dimension = "month"
	DimensionNCS            Dimension = "ncs"
	DimensionLeadingCompany Dimension = "leading_company"
)

// AllDimensions returns every aggregation dimension in display order.
func AllDimensions() []Dimension {
	return []Dimension{
		DimensionCourse,
		DimensionInstitution,
		DimensionYear,
		DimensionMonth,
		DimensionNCS,
		DimensionLeadingCompany,
	}
}

// ParseDimension converts a string like "institution" into a Dimension.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range AllDimensions() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", eris.Errorf("unknown dimension: %q", s)
}

// RevenueMode selects which revenue figure aggregation sums.
type RevenueMode string

const (
	RevenueCurrent RevenueMode = "current" // completion-adjusted estimate
	RevenueMax     RevenueMode = "max"     // unadjusted top of the revenue band
)

// Basis selects which date decides the year a cross-year course counts toward.
type Basis string

const (
	BasisStart Basis = "start"
	BasisEnd   Basis = "end"
)

// Subtotal holds the accumulated figures for one slice of a group.
type Subtotal struct {
	MemberCount    int     `json:"courseCount"`
	TotalEnrolled  int     `json:"totalStudents"`
	TotalCompleted int     `json:"completedStudents"`
	TotalRevenue   float64 `json:"totalRevenue"`
}

// AggregatedGroup is one row of an aggregation result. The same shape is used
// for every dimension; only the grouping key differs.
type AggregatedGroup struct {
	Dimension   Dimension `json:"dimension"`
	Key         string    `json:"key"`
	DisplayName string    `json:"name"`

	MemberCount    int     `json:"courseCount"`
	TotalEnrolled  int     `json:"totalStudents"`
	TotalCompleted int     `json:"completedStudents"`
	TotalRevenue   float64 `json:"totalRevenue"`

	AverageSatisfaction         float64 `json:"avgSatisfaction"`
	AverageCompletionRatePct    float64 `json:"completionRate"`
	UnfilteredCompletionRatePct float64 `json:"rawCompletionRate"`

	EarliestStart         time.Time `json:"earliestStart"`
	LatestEnd             time.Time `json:"latestEnd"`
	TrainingTypeTagsUnion []string  `json:"trainingTypes"`

	// Spillover holds courses that reach the filtered year only through the
	// other date (e.g. started the previous year). Nil without a year filter.
	Spillover        *Subtotal `json:"spillover,omitempty"`
	PrevYearStudents int       `json:"prevYearStudents,omitempty"`

	MemberRecords []AdjustedCourseRecord `json:"members,omitempty"`
}
