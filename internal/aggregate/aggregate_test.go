package aggregate

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/training-stats/internal/estimate"
	"github.com/sells-group/training-stats/internal/institution"
	"github.com/sells-group/training-stats/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type recOpt func(*model.AdjustedCourseRecord)

func adjusted(id string, revenue float64, opts ...recOpt) model.AdjustedCourseRecord {
	r := model.AdjustedCourseRecord{
		CourseRecord: model.CourseRecord{
			UniqueID:                 id,
			CourseID:                 "C-" + id,
			CourseName:               "과정 " + id,
			RawInstitutionName:       "기관A",
			CanonicalInstitutionName: "기관A",
			StartDate:                day("2024-03-01"),
			EndDate:                  day("2024-06-30"),
			EnrolledCount:            20,
			CompletedCount:           15,
			BaselineRevenue:          revenue,
			MinRevenue:               revenue,
			MaxRevenue:               revenue * 2,
			TrainingTypeTags:         []string{model.TagEmergingTechnology},
		},
		AdjustedTotalRevenue:  revenue,
		AdjustedYearlyRevenue: map[int]float64{},
	}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func withInst(raw, canonical string) recOpt {
	return func(r *model.AdjustedCourseRecord) {
		r.RawInstitutionName = raw
		r.CanonicalInstitutionName = canonical
	}
}

func withCourse(id, name, start string) recOpt {
	return func(r *model.AdjustedCourseRecord) {
		r.CourseID = id
		r.CourseName = name
		r.StartDate = day(start)
		r.EndDate = r.StartDate.AddDate(0, 2, 0)
	}
}

func withDates(start, end string) recOpt {
	return func(r *model.AdjustedCourseRecord) {
		r.StartDate = day(start)
		r.EndDate = day(end)
	}
}

func withCounts(enrolled, completed int, satisfaction float64) recOpt {
	return func(r *model.AdjustedCourseRecord) {
		r.EnrolledCount = enrolled
		r.CompletedCount = completed
		r.SatisfactionScore = satisfaction
	}
}

func withYearly(years map[int]float64) recOpt {
	return func(r *model.AdjustedCourseRecord) {
		r.YearlyRevenue = years
		r.AdjustedYearlyRevenue = map[int]float64{}
		for y, v := range years {
			r.AdjustedYearlyRevenue[y] = v * 1.1
		}
	}
}

func sumRevenue(groups []model.AggregatedGroup) float64 {
	var s float64
	for _, g := range groups {
		s += g.TotalRevenue
	}
	return s
}

func TestByInstitution_CanonicalScenario(t *testing.T) {
	canon := institution.Default()
	a := adjusted("1", 100, withInst("이젠컴퓨터학원", canon.Canonicalize("이젠컴퓨터학원")))
	b := adjusted("2", 250, withInst("이젠아이티아카데미", canon.Canonicalize("이젠아이티아카데미")))
	c := adjusted("3", 120, withInst("멀티캠퍼스 역삼", canon.Canonicalize("멀티캠퍼스 역삼")))

	groups := ByInstitution([]model.AdjustedCourseRecord{a, b, c}, Filter{})
	require.Len(t, groups, 2)
	assert.Equal(t, "이젠아카데미", groups[0].DisplayName)
	assert.Equal(t, 350.0, groups[0].TotalRevenue)
	assert.Equal(t, 2, groups[0].MemberCount)
	assert.Equal(t, "멀티캠퍼스", groups[1].Key)
	assert.Equal(t, model.DimensionInstitution, groups[0].Dimension)
	assert.Nil(t, groups[0].Spillover)
}

func TestByInstitution_PartnerKey(t *testing.T) {
	lead := adjusted("1", 500, withInst("삼성전자", "삼성전자"), func(r *model.AdjustedCourseRecord) {
		r.IsLeadingCompanyCourse = true
		r.PartnerInstitutionName = "(주)멀티캠퍼스"
		r.CanonicalPartnerName = "멀티캠퍼스"
		r.SponsoringCompanyName = "삼성전자"
	})
	plain := adjusted("2", 100, withInst("멀티캠퍼스", "멀티캠퍼스"))

	groups := ByInstitution([]model.AdjustedCourseRecord{lead, plain}, Filter{})
	require.Len(t, groups, 1)
	assert.Equal(t, "멀티캠퍼스", groups[0].Key)
	assert.Equal(t, 600.0, groups[0].TotalRevenue)

	details := InstitutionDetails([]model.AdjustedCourseRecord{lead, plain}, Filter{})
	require.Len(t, details, 1)
	assert.ElementsMatch(t, []RawNameCount{
		{Name: "(주)멀티캠퍼스", Count: 1},
		{Name: "멀티캠퍼스", Count: 1},
	}, details[0].RawNames)
}

func TestConservation(t *testing.T) {
	canon := institution.Default()
	raw := []string{"이젠컴퓨터학원", "그린아카데미", "서울IT학원", "이젠아이티아카데미", "(주)솔데스크", "서울IT학원"}
	var records []model.AdjustedCourseRecord
	var want float64
	for i, name := range raw {
		rev := float64(1_000_000 * (i + 3))
		want += rev
		ncs := []string{"2001", "2002"}[i%2]
		records = append(records, adjusted(string(rune('a'+i)), rev,
			withInst(name, canon.Canonicalize(name)),
			func(r *model.AdjustedCourseRecord) { r.NCSCode = ncs },
		))
	}
	// Lenient normalization keeps rows without an institution or a course
	// identity; they still count.
	records = append(records,
		adjusted("x", 500_000, withInst("", "")),
		adjusted("y", 700_000, withCourse("", "", "2024-05-01")),
	)
	want += 1_200_000

	for _, dim := range []model.Dimension{model.DimensionInstitution, model.DimensionCourse, model.DimensionYear, model.DimensionMonth, model.DimensionNCS} {
		groups, err := Group(dim, records, Filter{})
		require.NoError(t, err)
		assert.InDelta(t, want, sumRevenue(groups), 1e-6, "dimension %s", dim)
	}
	assert.InDelta(t, want, Summary(records, Filter{}).TotalRevenue, 1e-6)
}

func TestByCourse_LatestNameWins(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100, withCourse("K1", "자바 웹개발", "2023-01-10")),
		adjusted("2", 100, withCourse("K1", "자바 풀스택 웹개발", "2024-05-01")),
		adjusted("3", 100, withCourse("K1", "자바 웹개발 과정", "2023-09-01")),
		adjusted("4", 50, withCourse("", "파이썬 기초", "2024-01-01")),
		adjusted("5", 70, withCourse("", "파이썬 기초", "2024-04-01")),
	}

	groups := ByCourse(records, Filter{})
	require.Len(t, groups, 2)
	assert.Equal(t, "K1", groups[0].Key)
	assert.Equal(t, "자바 풀스택 웹개발", groups[0].DisplayName)
	assert.Equal(t, 3, groups[0].MemberCount)
	assert.Equal(t, day("2023-01-10"), groups[0].EarliestStart)
	assert.Equal(t, day("2024-07-01"), groups[0].LatestEnd)

	assert.Equal(t, "파이썬 기초", groups[1].Key)
	assert.Equal(t, 120.0, groups[1].TotalRevenue)
}

func TestUnknownBuckets(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100),
		adjusted("2", 50, withInst("", "")),
		adjusted("3", 30, withCourse("", "", "2024-04-01")),
	}

	insts := ByInstitution(records, Filter{})
	require.Len(t, insts, 2)
	assert.Equal(t, "기관A", insts[0].Key)
	assert.Equal(t, Unknown, insts[1].Key)
	assert.Equal(t, 50.0, insts[1].TotalRevenue)
	assert.InDelta(t, 180.0, sumRevenue(insts), 1e-9)

	courses := ByCourse(records, Filter{})
	require.Len(t, courses, 3)
	assert.InDelta(t, 180.0, sumRevenue(courses), 1e-9)
	assert.Equal(t, Unknown, courses[2].Key)
	assert.Equal(t, Unknown, courses[2].DisplayName)

	only := ByInstitution(records, Filter{Institution: Unknown})
	require.Len(t, only, 1)
	assert.Equal(t, 1, only[0].MemberCount)

	details := InstitutionDetails(records, Filter{})
	require.Len(t, details, 2)
	assert.Equal(t, Unknown, details[1].Name)
	assert.Equal(t, 2, Summary(records, Filter{}).InstitutionCount)
}

func TestByCourse_SpilloverOnlyGroupKeepsName(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 500, withCourse("C1", "파이썬 과정", "2023-11-01"), withDates("2023-11-01", "2024-02-28"),
			withYearly(map[int]float64{2023: 200, 2024: 300})),
	}

	groups := ByCourse(records, Filter{Year: 2024})
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "C1", g.Key)
	assert.Equal(t, "파이썬 과정", g.DisplayName)
	assert.Equal(t, 0, g.MemberCount)
	require.NotNil(t, g.Spillover)
	assert.Equal(t, 1, g.Spillover.MemberCount)
}

func TestByCourse_PrimaryNameBeatsOlderSpillover(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 500, withCourse("C1", "파이썬 과정", "2023-11-01"), withDates("2023-11-01", "2024-02-28")),
		adjusted("2", 500, withCourse("C1", "파이썬 심화 과정", "2024-06-01")),
	}

	groups := ByCourse(records, Filter{Year: 2024})
	require.Len(t, groups, 1)
	assert.Equal(t, "파이썬 심화 과정", groups[0].DisplayName)
	assert.Equal(t, 1, groups[0].MemberCount)
	assert.Equal(t, 1, groups[0].Spillover.MemberCount)
}

func TestRatesAndSatisfaction(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100, withCounts(10, 8, 4.0)),
		adjusted("2", 100, withCounts(30, 15, 5.0)),
		adjusted("3", 100, withCounts(20, 0, 0)), // no completions, no score
	}
	groups := ByInstitution(records, Filter{})
	require.Len(t, groups, 1)
	g := groups[0]

	assert.Equal(t, 60, g.TotalEnrolled)
	assert.Equal(t, 23, g.TotalCompleted)
	// (4*10 + 5*30) / 40
	assert.InDelta(t, 4.75, g.AverageSatisfaction, 1e-9)
	// filtered: 23/40
	assert.InDelta(t, 57.5, g.AverageCompletionRatePct, 1e-9)
	// unfiltered: 23/60
	assert.InDelta(t, 23.0/60.0*100, g.UnfilteredCompletionRatePct, 1e-9)
}

func TestZeroDenominators(t *testing.T) {
	groups := ByYear([]model.AdjustedCourseRecord{adjusted("1", 100, withCounts(0, 0, 0))}, Filter{})
	require.Len(t, groups, 1)
	assert.Equal(t, 0.0, groups[0].AverageSatisfaction)
	assert.Equal(t, 0.0, groups[0].AverageCompletionRatePct)
	assert.Equal(t, 0.0, groups[0].UnfilteredCompletionRatePct)
}

func TestSortOrder(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100, withInst("나", "나")),
		adjusted("2", 300, withInst("다", "다")),
		adjusted("3", 100, withInst("가", "가")),
	}
	groups := ByInstitution(records, Filter{})
	var keys []string
	for _, g := range groups {
		keys = append(keys, g.Key)
	}
	assert.Equal(t, []string{"다", "가", "나"}, keys)
}

func TestYearFilter_CrossYearSplit(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		// Starts 2023, ends 2024: spillover for 2024 on start basis.
		adjusted("1", 900, withDates("2023-11-01", "2024-03-31"), withCounts(30, 20, 0),
			withYearly(map[int]float64{2023: 400, 2024: 500})),
		// Fully inside 2024.
		adjusted("2", 600, withDates("2024-04-01", "2024-08-31"), withCounts(20, 10, 0),
			withYearly(map[int]float64{2024: 600})),
		// Starts 2024, ends 2025.
		adjusted("3", 800, withDates("2024-10-01", "2025-02-28"), withCounts(10, 5, 0),
			withYearly(map[int]float64{2024: 300, 2025: 500})),
		// Outside 2024.
		adjusted("4", 700, withDates("2022-01-01", "2022-05-01")),
	}

	start := ByInstitution(records, Filter{Year: 2024})
	require.Len(t, start, 1)
	g := start[0]
	assert.Equal(t, 2, g.MemberCount)
	assert.Equal(t, 30, g.TotalEnrolled)
	assert.InDelta(t, (600+300)*1.1, g.TotalRevenue, 1e-9)
	require.NotNil(t, g.Spillover)
	assert.Equal(t, 1, g.Spillover.MemberCount)
	assert.Equal(t, 30, g.Spillover.TotalEnrolled)
	assert.InDelta(t, 500*1.1, g.Spillover.TotalRevenue, 1e-9)
	assert.Equal(t, 30, g.PrevYearStudents)

	end := ByInstitution(records, Filter{Year: 2024, Basis: model.BasisEnd})
	require.Len(t, end, 1)
	assert.Equal(t, 2, end[0].MemberCount, "records 1 and 2 end in 2024")
	assert.Equal(t, 1, end[0].Spillover.MemberCount, "record 3 spills into 2024")

	maxMode := ByInstitution(records, Filter{Year: 2024, Mode: model.RevenueMax})
	assert.InDelta(t, 900.0, maxMode[0].TotalRevenue, 1e-9)
}

func TestYearFilter_NoYearlyBreakdown(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 900, withDates("2023-11-01", "2024-03-31")),
		adjusted("2", 600, withDates("2024-04-01", "2024-08-31")),
	}
	groups := ByYear(records, Filter{Year: 2024})
	require.Len(t, groups, 1)
	assert.Equal(t, "2024", groups[0].Key)
	assert.Equal(t, 600.0, groups[0].TotalRevenue)
	assert.Equal(t, 0.0, groups[0].Spillover.TotalRevenue)
	assert.Equal(t, 1, groups[0].Spillover.MemberCount)
}

func TestRevenueModeMax(t *testing.T) {
	r := adjusted("1", 100)
	r.AdjustedTotalRevenue = 150
	groups := ByCourse([]model.AdjustedCourseRecord{r}, Filter{Mode: model.RevenueMax})
	assert.Equal(t, 200.0, groups[0].TotalRevenue)
	groups = ByCourse([]model.AdjustedCourseRecord{r}, Filter{})
	assert.Equal(t, 150.0, groups[0].TotalRevenue)
}

func TestFilters(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100, withDates("2024-03-01", "2024-05-01")),
		adjusted("2", 200, withDates("2024-04-01", "2024-06-01"), withInst("기관B", "기관B")),
		adjusted("3", 300, withDates("2024-03-15", "2024-06-01"), func(r *model.AdjustedCourseRecord) {
			r.TrainingTypeTags = []string{model.TagAdvanced}
		}),
		adjusted("4", 400, func(r *model.AdjustedCourseRecord) { r.DateInvalid = true }),
	}

	assert.Equal(t, 600.0, Summary(records, Filter{}).TotalRevenue, "invalid-date records are excluded")
	assert.Equal(t, 400.0, Summary(records, Filter{Month: 3}).TotalRevenue)
	assert.Equal(t, 400.0, Summary(records, Filter{Institution: "기관A"}).TotalRevenue)
	assert.Equal(t, 300.0, Summary(records, Filter{TrainingType: model.TagAdvanced}).TotalRevenue)
	assert.Equal(t, 2, Summary(records, Filter{}).InstitutionCount)

	months := ByMonth(records, Filter{})
	require.Len(t, months, 2)
	assert.Equal(t, "2024-03", months[0].Key)
	assert.Equal(t, 400.0, months[0].TotalRevenue)
}

func TestByNCSAndLeadingCompany(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100, func(r *model.AdjustedCourseRecord) { r.NCSCode = "20010202"; r.NCSName = "응용SW엔지니어링" }),
		adjusted("2", 50),
		adjusted("3", 300, func(r *model.AdjustedCourseRecord) {
			r.IsLeadingCompanyCourse = true
			r.SponsoringCompanyName = "현대자동차"
			r.PartnerInstitutionName = "기관B"
		}),
	}

	ncs := ByNCS(records, Filter{})
	require.Len(t, ncs, 2)
	assert.Equal(t, Unclassified, ncs[0].Key)
	assert.Equal(t, 350.0, ncs[0].TotalRevenue)
	assert.Equal(t, "응용SW엔지니어링", ncs[1].DisplayName)

	lead := ByLeadingCompany(records, Filter{})
	require.Len(t, lead, 1)
	assert.Equal(t, "현대자동차", lead[0].Key)
	assert.Equal(t, 300.0, lead[0].TotalRevenue)
}

func TestIncludeMembersAndTags(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 100, func(r *model.AdjustedCourseRecord) {
			r.TrainingTypeTags = []string{model.TagIncumbentWorker, model.TagAdvanced}
		}),
		adjusted("2", 100),
	}
	groups := ByInstitution(records, Filter{})
	assert.Nil(t, groups[0].MemberRecords)
	assert.Equal(t, []string{model.TagAdvanced, model.TagEmergingTechnology, model.TagIncumbentWorker}, groups[0].TrainingTypeTagsUnion)

	groups = ByInstitution(records, Filter{IncludeMembers: true})
	assert.Len(t, groups[0].MemberRecords, 2)
}

func TestGroup_UnknownDimension(t *testing.T) {
	_, err := Group("weekday", nil, Filter{})
	require.Error(t, err)
}

func TestFilterName(t *testing.T) {
	assert.Equal(t, "all", Filter{}.Name())
	assert.Equal(t, "all", Filter{Year: 2024, Mode: model.RevenueMax, Basis: model.BasisStart}.Name())
	assert.Equal(t, "basis=end&inst="+url.QueryEscape("멀티캠퍼스")+"&members=1&month=3&type=advanced",
		Filter{Month: 3, Institution: "멀티캠퍼스", TrainingType: "advanced", Basis: model.BasisEnd, IncludeMembers: true}.Name())
}

func TestFilterName_Distinct(t *testing.T) {
	pairs := []struct {
		name string
		a, b Filter
	}{
		{"separator in institution", Filter{Institution: "A,type=X"}, Filter{Institution: "A", TrainingType: "X"}},
		{"ampersand in institution", Filter{Institution: "A&type=X"}, Filter{Institution: "A", TrainingType: "X"}},
		{"members suffix", Filter{Institution: "A,members"}, Filter{Institution: "A", IncludeMembers: true}},
		{"institution named all", Filter{Institution: "all"}, Filter{}},
	}
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a.Name(), tt.b.Name())
		})
	}

	assert.NotContains(t, Filter{Institution: "a:b", TrainingType: "c:d"}.Name(), ":")
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		f       Filter
		wantErr string
	}{
		{"zero", Filter{}, ""},
		{"full", Filter{Year: 2024, Month: 12, Basis: model.BasisEnd, Mode: model.RevenueMax}, ""},
		{"month", Filter{Month: 13}, "month failed max"},
		{"year", Filter{Year: 1999}, "year failed min"},
		{"basis", Filter{Basis: "middle"}, "basis failed oneof"},
		{"mode", Filter{Mode: "min"}, "mode failed oneof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestYearlyRevenueTotals(t *testing.T) {
	records := []model.AdjustedCourseRecord{
		adjusted("1", 0, withYearly(map[int]float64{2023: 100, 2024: 200})),
		adjusted("2", 0, withYearly(map[int]float64{2024: 50})),
	}
	cur := YearlyRevenueTotals(records, model.RevenueCurrent)
	require.Len(t, cur, len(model.SupportedYears))
	assert.Equal(t, 2021, cur[0].Year)
	assert.InDelta(t, 250*1.1, cur[3].Revenue, 1e-9)

	raw := YearlyRevenueTotals(records, model.RevenueMax)
	assert.Equal(t, 250.0, raw[3].Revenue)
	assert.Equal(t, 100.0, raw[2].Revenue)
}

func TestEndToEndWithAdjuster(t *testing.T) {
	canon := institution.Default()
	base := []model.CourseRecord{
		{UniqueID: "1", CourseID: "K1", CourseName: "A", RawInstitutionName: "이젠컴퓨터학원", StartDate: day("2023-01-01"), EndDate: day("2023-03-01"), EnrolledCount: 100, CompletedCount: 0, BaselineRevenue: 10_000_000, MaxRevenue: 20_000_000},
		{UniqueID: "2", CourseID: "K2", CourseName: "B", RawInstitutionName: "이젠아이티아카데미", StartDate: day("2024-01-01"), EndDate: day("2024-03-01"), EnrolledCount: 50, CompletedCount: 25, BaselineRevenue: 5_000_000, MaxRevenue: 8_000_000},
	}
	for i := range base {
		base[i].CanonicalInstitutionName = canon.Canonicalize(base[i].RawInstitutionName)
	}
	adj, _ := estimate.NewAdjuster().AdjustAll(base, estimate.EstimateCompletion(base))

	groups := ByInstitution(adj, Filter{})
	require.Len(t, groups, 1)
	assert.Equal(t, "이젠아카데미", groups[0].Key)
	assert.InDelta(t, adj[0].AdjustedTotalRevenue+adj[1].AdjustedTotalRevenue, groups[0].TotalRevenue, 1e-6)
}
