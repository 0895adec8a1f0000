// Package estimate computes completion-rate baselines and completion-adjusted
// revenue for normalized course records.
package estimate

import (
	"github.com/sells-group/training-stats/internal/model"
)

// CompletionEstimate is a dataset-wide snapshot of completion rates, in
// percent. It is computed once per full pass and never mutated afterwards.
type CompletionEstimate struct {
	Global        float64            `json:"global"`
	ByCourseID    map[string]float64 `json:"by_course_id"`
	ByInstitution map[string]float64 `json:"by_institution"`
	SampleSize    int                `json:"sample_size"` // records contributing to Global
}

type tally struct {
	enrolled  int
	completed int
}

func (t tally) pct() float64 {
	if t.enrolled == 0 {
		return 0
	}
	return float64(t.completed) / float64(t.enrolled) * 100
}

// countsTowardRate reports whether a record contributes to completion rates.
// Records with no completions are excluded so unfinished cohorts do not drag
// the baseline toward zero.
func countsTowardRate(r model.CourseRecord) bool {
	return !r.DateInvalid && r.EnrolledCount > 0 && r.CompletedCount > 0
}

// EstimateCompletion computes the global, per-course-ID and per-institution
// completion rates over records with enrolled > 0 and completed > 0. Records
// without a course ID are left out of ByCourseID; records flagged with an
// invalid date are ignored entirely.
func EstimateCompletion(records []model.CourseRecord) CompletionEstimate {
	var global tally
	byCourse := make(map[string]tally)
	byInst := make(map[string]tally)

	for _, r := range records {
		if !countsTowardRate(r) {
			continue
		}
		global.enrolled += r.EnrolledCount
		global.completed += r.CompletedCount

		if r.CourseID != "" {
			t := byCourse[r.CourseID]
			t.enrolled += r.EnrolledCount
			t.completed += r.CompletedCount
			byCourse[r.CourseID] = t
		}
		if k := r.InstitutionKey(); k != "" {
			t := byInst[k]
			t.enrolled += r.EnrolledCount
			t.completed += r.CompletedCount
			byInst[k] = t
		}
	}

	est := CompletionEstimate{
		Global:        global.pct(),
		ByCourseID:    make(map[string]float64, len(byCourse)),
		ByInstitution: make(map[string]float64, len(byInst)),
	}
	for k, t := range byCourse {
		est.ByCourseID[k] = t.pct()
	}
	for k, t := range byInst {
		est.ByInstitution[k] = t.pct()
	}
	for _, r := range records {
		if countsTowardRate(r) {
			est.SampleSize++
		}
	}
	return est
}

// FirstOfferings marks, index-aligned with records, the offerings that have
// the earliest start date among records sharing a course identity. Ties at the
// earliest date are all first offerings. Records with an invalid date have no
// trustworthy position in the series and are treated as first offerings.
func FirstOfferings(records []model.CourseRecord) []bool {
	earliest := make(map[string]int64)
	for _, r := range records {
		if r.DateInvalid || r.StartDate.IsZero() {
			continue
		}
		k := r.CourseKey()
		ts := r.StartDate.Unix()
		if cur, ok := earliest[k]; !ok || ts < cur {
			earliest[k] = ts
		}
	}

	out := make([]bool, len(records))
	for i, r := range records {
		if r.DateInvalid || r.StartDate.IsZero() {
			out[i] = true
			continue
		}
		out[i] = r.StartDate.Unix() == earliest[r.CourseKey()]
	}
	return out
}
