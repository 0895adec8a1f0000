// Package aggregate groups completion-adjusted course records along the
// reporting dimensions.
package aggregate

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/training-stats/internal/model"
)

var validate = validator.New()

// Filter narrows the records an aggregation sees and picks the revenue figure
// it sums. The zero value selects every valid record, start-date basis and
// adjusted revenue.
type Filter struct {
	Year           int               `json:"year,omitempty" validate:"omitempty,min=2000,max=2100"`
	Month          int               `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Institution    string            `json:"institution,omitempty" validate:"omitempty,max=200"`
	TrainingType   string            `json:"type,omitempty" validate:"omitempty,max=100"`
	Basis          model.Basis       `json:"basis,omitempty" validate:"omitempty,oneof=start end"`
	Mode           model.RevenueMode `json:"mode,omitempty" validate:"omitempty,oneof=current max"`
	IncludeMembers bool              `json:"members,omitempty"`
}

// Validate checks the filter's field ranges.
func (f Filter) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return eris.Errorf("aggregate: invalid filter: %s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return eris.Wrap(err, "aggregate: invalid filter")
	}
	return nil
}

// Name is the filter's contribution to a cache key. Year and revenue mode are
// keyed separately, so they are left out. Values are query-escaped and sorted
// by field, so distinct filters never share a name and a name never contains
// ':'. Unfiltered queries are named "all".
func (f Filter) Name() string {
	v := url.Values{}
	if f.Month != 0 {
		v.Set("month", strconv.Itoa(f.Month))
	}
	if f.Institution != "" {
		v.Set("inst", f.Institution)
	}
	if f.TrainingType != "" {
		v.Set("type", f.TrainingType)
	}
	if f.basis() == model.BasisEnd {
		v.Set("basis", "end")
	}
	if f.IncludeMembers {
		v.Set("members", "1")
	}
	if len(v) == 0 {
		return "all"
	}
	return v.Encode()
}

func (f Filter) basis() model.Basis {
	if f.Basis == model.BasisEnd {
		return model.BasisEnd
	}
	return model.BasisStart
}

func (f Filter) mode() model.RevenueMode {
	if f.Mode == model.RevenueMax {
		return model.RevenueMax
	}
	return model.RevenueCurrent
}

// share says which subtotal of a group a record lands in.
type share int

const (
	shareNone share = iota
	sharePrimary
	shareSpillover
)

// basisDate is the date deciding where a record is counted.
func (f Filter) basisDate(r model.CourseRecord) time.Time {
	if f.basis() == model.BasisEnd && !r.EndDate.IsZero() {
		return r.EndDate
	}
	return r.StartDate
}

// classify decides whether a record is counted and in which subtotal. With a
// year filter, records whose basis date falls in the year are primary; records
// that only reach the year through the rest of their schedule are spillover.
func (f Filter) classify(r model.CourseRecord) share {
	if r.DateInvalid {
		return shareNone
	}
	if f.Institution != "" && institutionBucket(r) != f.Institution && r.CanonicalInstitutionName != f.Institution {
		return shareNone
	}
	if f.TrainingType != "" && !r.HasTag(f.TrainingType) {
		return shareNone
	}

	d := f.basisDate(r)
	if f.Month != 0 && int(d.Month()) != f.Month {
		return shareNone
	}
	if f.Year == 0 || d.Year() == f.Year {
		return sharePrimary
	}
	if f.Month == 0 && r.StartYear() <= f.Year && f.Year <= r.EndYear() {
		return shareSpillover
	}
	return shareNone
}

// revenue returns the figure a record contributes under the filter. With a
// year filter that is the record's revenue for that year; records without any
// yearly breakdown count their whole total toward their primary year.
func (f Filter) revenue(r model.AdjustedCourseRecord, s share) float64 {
	maxMode := f.mode() == model.RevenueMax
	if f.Year == 0 {
		if maxMode {
			return maxBand(r.CourseRecord)
		}
		return r.AdjustedTotalRevenue
	}

	if r.YearlyRevenueSum() == 0 {
		if s != sharePrimary {
			return 0
		}
		if maxMode {
			return maxBand(r.CourseRecord)
		}
		return r.AdjustedTotalRevenue
	}
	if maxMode {
		return r.YearlyRevenue[f.Year]
	}
	return r.AdjustedYearlyRevenue[f.Year]
}

// maxBand is the unadjusted top of a record's revenue band.
func maxBand(r model.CourseRecord) float64 {
	lo := r.RevenueFloor()
	if r.MaxRevenue > lo {
		return r.MaxRevenue
	}
	return lo
}
