package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/normalize"
	"github.com/sells-group/training-stats/internal/pipeline"
)

func row(kv ...string) normalize.Row {
	r := normalize.Row{}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i]] = kv[i+1]
	}
	return r
}

func course(id, name, inst, start string) normalize.Row {
	return row(
		normalize.ColCourseID, id,
		normalize.ColCourseName, name,
		normalize.ColInstitution, inst,
		normalize.ColStartDate, start,
		normalize.ColEnrolled, "10",
		normalize.ColCompleted, "8",
		normalize.ColBaseline, "1000000",
	)
}

func buildDataset(rows ...normalize.Row) *pipeline.Dataset {
	return pipeline.New(nil, nil, nil).Run(rows)
}

func TestBuildHealthReport_Collisions(t *testing.T) {
	ds := buildDataset(
		course("", "자바 웹개발", "이젠컴퓨터학원", "2024-01-01"),
		course("", "자바 웹개발", "멀티캠퍼스", "2024-02-01"),
		course("", "자바 웹개발", "멀티캠퍼스 역삼", "2024-03-01"),
		course("", "파이썬 기초", "멀티캠퍼스", "2024-01-01"),
		// Same name under a course ID is not a name-keyed collision.
		course("C1", "파이썬 기초", "이젠컴퓨터학원", "2024-01-01"),
	)

	rep := BuildHealthReport(ds)
	require.Len(t, rep.Collisions, 1)
	assert.Equal(t, "자바 웹개발", rep.Collisions[0].CourseName)
	assert.Equal(t, []string{"멀티캠퍼스", "이젠아카데미"}, rep.Collisions[0].Institutions)
	assert.Equal(t, 3, rep.Collisions[0].Records)
	assert.Equal(t, 1, rep.MergedInstitutions, "멀티캠퍼스 absorbed two raw names")
}

func TestBuildHealthReport_Renames(t *testing.T) {
	ds := buildDataset(
		course("C1", "자바 웹개발", "멀티캠퍼스", "2023-01-01"),
		course("C1", "자바 풀스택 웹개발", "멀티캠퍼스", "2024-01-01"),
		course("C2", "AI 기초", "멀티캠퍼스", "2024-01-01"),
	)

	rep := BuildHealthReport(ds)
	require.Len(t, rep.Renames, 1)
	assert.Equal(t, "C1", rep.Renames[0].CourseID)
	assert.Equal(t, []string{"자바 웹개발", "자바 풀스택 웹개발"}, rep.Renames[0].Names)
	assert.Empty(t, rep.Collisions)
}

func TestBuildHealthReport_Counts(t *testing.T) {
	ds := buildDataset(
		course("C1", "자바", "멀티캠퍼스", "2024-01-01"),
		course("", "자바", "이젠컴퓨터학원", "bad date"),
		row(normalize.ColCourseName, "무매출", normalize.ColInstitution, "멀티캠퍼스", normalize.ColStartDate, "2024-01-01"),
	)

	rep := BuildHealthReport(ds)
	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 3, rep.Records)
	assert.Equal(t, 1, rep.MalformedRows)
	assert.InDelta(t, 1.0/3, rep.MalformedRatio, 1e-9)
	assert.Equal(t, 1, rep.DateInvalid)
	assert.InDelta(t, 80.0, rep.GlobalCompletionPct, 1e-9)
	assert.Equal(t, 1, rep.RateSources[model.RateSkipped])
	assert.Equal(t, ds.BuiltAt, rep.BuiltAt)
	// The invalid-date record does not produce a collision with 멀티캠퍼스.
	assert.Empty(t, rep.Collisions)
}

func TestBuildHealthReport_Empty(t *testing.T) {
	rep := BuildHealthReport(buildDataset())
	assert.Zero(t, rep.Rows)
	assert.Zero(t, rep.MalformedRatio)
	assert.Empty(t, rep.Collisions)
	assert.WithinDuration(t, time.Now(), rep.GeneratedAt, time.Minute)
}
