// Package monitoring derives data-quality health reports from a built
// dataset and raises alerts when they cross configured thresholds.
package monitoring

import (
	"sort"
	"time"

	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/pipeline"
)

// Collision is a course name that, lacking a course ID, groups offerings from
// more than one canonical institution under the same key.
type Collision struct {
	CourseName   string   `json:"course_name"`
	Institutions []string `json:"institutions"`
	Records      int      `json:"records"`
}

// Rename is a course ID whose offerings carry more than one course name.
type Rename struct {
	CourseID string   `json:"course_id"`
	Names    []string `json:"names"`
}

// HealthReport summarizes data quality for one dataset.
type HealthReport struct {
	Rows           int     `json:"rows"`
	Records        int     `json:"records"`
	MalformedRows  int     `json:"malformed_rows"`
	MalformedRatio float64 `json:"malformed_ratio"`
	DateInvalid    int     `json:"date_invalid"`

	Collisions []Collision `json:"collisions"`
	Renames    []Rename    `json:"renames"`

	// MergedInstitutions counts canonical institutions that absorbed more
	// than one raw name.
	MergedInstitutions int `json:"merged_institutions"`

	EstimationUnavailable int                      `json:"estimation_unavailable"`
	RateSources           map[model.RateSource]int `json:"rate_sources"`
	GlobalCompletionPct   float64                  `json:"global_completion_pct"`

	BuiltAt     time.Time `json:"built_at"`
	GeneratedAt time.Time `json:"generated_at"`
}

// BuildHealthReport computes the health report for ds. Records with an
// invalid date are left out of collision and rename detection because they
// are excluded from aggregation.
func BuildHealthReport(ds *pipeline.Dataset) *HealthReport {
	rep := &HealthReport{
		Rows:                  ds.Warnings.Rows,
		Records:               len(ds.Records),
		MalformedRows:         ds.Warnings.MalformedRows,
		DateInvalid:           ds.Warnings.DateInvalid,
		EstimationUnavailable: ds.AdjustStats.EstimationUnavailable,
		RateSources:           make(map[model.RateSource]int, len(ds.AdjustStats.BySource)),
		GlobalCompletionPct:   ds.Estimate.Global,
		BuiltAt:               ds.BuiltAt,
		GeneratedAt:           time.Now().UTC(),
	}
	if rep.Rows > 0 {
		rep.MalformedRatio = float64(rep.MalformedRows) / float64(rep.Rows)
	}
	for src, n := range ds.AdjustStats.BySource {
		rep.RateSources[src] = n
	}

	byName := make(map[string]map[string]int) // course name -> institution -> records
	byID := make(map[string]map[string]bool)  // course ID -> names
	rawByCanonical := make(map[string]map[string]bool)

	for _, r := range ds.Records {
		if r.DateInvalid {
			continue
		}
		if r.CourseID == "" {
			if byName[r.CourseName] == nil {
				byName[r.CourseName] = make(map[string]int)
			}
			byName[r.CourseName][r.CanonicalInstitutionName]++
		} else {
			if byID[r.CourseID] == nil {
				byID[r.CourseID] = make(map[string]bool)
			}
			byID[r.CourseID][r.CourseName] = true
		}
		if rawByCanonical[r.CanonicalInstitutionName] == nil {
			rawByCanonical[r.CanonicalInstitutionName] = make(map[string]bool)
		}
		rawByCanonical[r.CanonicalInstitutionName][r.RawInstitutionName] = true
	}

	for name, insts := range byName {
		if len(insts) < 2 {
			continue
		}
		c := Collision{CourseName: name, Institutions: sortedKeys(insts)}
		for _, n := range insts {
			c.Records += n
		}
		rep.Collisions = append(rep.Collisions, c)
	}
	sort.Slice(rep.Collisions, func(i, j int) bool {
		if rep.Collisions[i].Records != rep.Collisions[j].Records {
			return rep.Collisions[i].Records > rep.Collisions[j].Records
		}
		return rep.Collisions[i].CourseName < rep.Collisions[j].CourseName
	})

	for id, names := range byID {
		if len(names) < 2 {
			continue
		}
		rep.Renames = append(rep.Renames, Rename{CourseID: id, Names: sortedKeys(names)})
	}
	sort.Slice(rep.Renames, func(i, j int) bool { return rep.Renames[i].CourseID < rep.Renames[j].CourseID })

	for _, raws := range rawByCanonical {
		if len(raws) > 1 {
			rep.MergedInstitutions++
		}
	}

	return rep
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
