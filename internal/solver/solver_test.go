package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caseplan/internal/model"
)

func weekdayWindows(days int, start, end int, loc string) []model.AvailabilityWindow {
	var out []model.AvailabilityWindow
	for d := 0; d < days; d++ {
		out = append(out, model.AvailabilityWindow{Day: d, StartMin: start, EndMin: end, LocationID: loc})
	}
	return out
}

func speechReq(id, studentID string, perWeek, dur int) model.ServiceRequirement {
	return model.ServiceRequirement{
		ID:               id,
		StudentID:        studentID,
		SessionsPerWeek:  perWeek,
		DurationMin:      dur,
		AllowedLocations: []string{"siteA"},
		Specialty:        "speech",
	}
}

func checkHardConstraints(t *testing.T, sessions []model.Session, therapists []model.Therapist) {
	t.Helper()
	byID := map[string]model.Therapist{}
	for _, th := range therapists {
		byID[th.ID] = th
	}
	for i, a := range sessions {
		th, ok := byID[a.TherapistID]
		require.True(t, ok, "session %s has unknown therapist %s", a.ID, a.TherapistID)
		inWindow := false
		for _, w := range th.Windows {
			if w.Day == a.Day && w.LocationID == a.LocationID && w.StartMin <= a.StartMin && a.EndMin() <= w.EndMin {
				inWindow = true
			}
		}
		require.True(t, inWindow, "session %s outside availability: %+v", a.ID, a)
		for j, b := range sessions {
			if i == j || a.Day != b.Day {
				continue
			}
			if a.TherapistID == b.TherapistID {
				require.False(t, overlapMin(a.StartMin, a.EndMin(), b.StartMin, b.EndMin()),
					"therapist %s double-booked: %+v vs %+v", a.TherapistID, a, b)
			}
			if a.StudentIDs[0] == b.StudentIDs[0] {
				require.False(t, overlapMin(a.StartMin, a.EndMin(), b.StartMin, b.EndMin()),
					"student %s double-booked: %+v vs %+v", a.StudentIDs[0], a, b)
			}
		}
	}
}

func TestComputeScheduleFullPlacement(t *testing.T) {
	p := Problem{
		WeekOf: "2026-03-02",
		Students: []model.Student{
			{ID: "stu1", EligibleLocations: []string{"siteA"}},
			{ID: "stu2", EligibleLocations: []string{"siteA"}},
			{ID: "stu3", EligibleLocations: []string{"siteA"}},
		},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA")},
		},
		Requirements: []model.ServiceRequirement{
			speechReq("r1", "stu1", 2, 30),
			speechReq("r2", "stu2", 2, 30),
			speechReq("r3", "stu3", 2, 30),
		},
	}
	res, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	require.False(t, res.Partial)
	require.Empty(t, res.Unmet)
	require.Len(t, res.Sessions, 6)

	perReq := map[string][]int{}
	for _, s := range res.Sessions {
		require.Equal(t, model.SessionScheduled, s.Status)
		require.Equal(t, 30, s.DurationMin)
		perReq[s.RequirementID] = append(perReq[s.RequirementID], s.Day)
	}
	for id, days := range perReq {
		require.Len(t, days, 2, "requirement %s", id)
	}
	checkHardConstraints(t, res.Sessions, p.Therapists)
}

func TestComputeScheduleReportsDeficits(t *testing.T) {
	// One Monday hour fits two 30-minute sessions; the rest go unmet.
	p := Problem{
		WeekOf:      "2026-03-02",
		SlotStepMin: 15,
		Students: []model.Student{
			{ID: "stu1", EligibleLocations: []string{"siteA"}},
			{ID: "stu2", EligibleLocations: []string{"siteA"}},
			{ID: "stu3", EligibleLocations: []string{"siteA"}},
		},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: []model.AvailabilityWindow{
				{Day: 0, StartMin: 540, EndMin: 600, LocationID: "siteA"},
			}},
		},
		Requirements: []model.ServiceRequirement{
			speechReq("r1", "stu1", 2, 30),
			speechReq("r2", "stu2", 2, 30),
			speechReq("r3", "stu3", 2, 30),
		},
	}
	res, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	require.Len(t, res.Sessions, 2)

	totalDeficit := 0
	for _, u := range res.Unmet {
		require.Equal(t, model.ReasonNoAvailableSlot, u.Reason)
		totalDeficit += u.Deficit
	}
	require.Equal(t, 4, totalDeficit)
	checkHardConstraints(t, res.Sessions, p.Therapists)
}

func TestComputeScheduleUnmetReasons(t *testing.T) {
	students := []model.Student{{ID: "stu1", EligibleLocations: []string{"siteA"}}}
	therapists := []model.Therapist{
		{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteB")},
	}

	ot := speechReq("r1", "stu1", 1, 30)
	ot.Specialty = "ot"
	res, err := ComputeSchedule(context.Background(), Problem{
		WeekOf: "2026-03-02", Students: students, Therapists: therapists,
		Requirements: []model.ServiceRequirement{ot},
	}, time.Second)
	require.NoError(t, err)
	require.Len(t, res.Unmet, 1)
	require.Equal(t, model.ReasonNoCompatibleTherapist, res.Unmet[0].Reason)
	require.Equal(t, 1, res.Unmet[0].Deficit)

	// specialty matches but the therapist never works at an allowed location
	res, err = ComputeSchedule(context.Background(), Problem{
		WeekOf: "2026-03-02", Students: students, Therapists: therapists,
		Requirements: []model.ServiceRequirement{speechReq("r2", "stu1", 1, 30)},
	}, time.Second)
	require.NoError(t, err)
	require.Len(t, res.Unmet, 1)
	require.Equal(t, model.ReasonLocationConflict, res.Unmet[0].Reason)
}

func TestComputeScheduleMinGapDays(t *testing.T) {
	r := speechReq("r1", "stu1", 2, 30)
	r.MinGapDays = 2
	p := Problem{
		WeekOf:   "2026-03-02",
		Students: []model.Student{{ID: "stu1", EligibleLocations: []string{"siteA"}}},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA")},
		},
		Requirements: []model.ServiceRequirement{r},
	}
	res, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	require.Empty(t, res.Unmet)
	require.Len(t, res.Sessions, 2)
	require.GreaterOrEqual(t, abs(res.Sessions[0].Day-res.Sessions[1].Day), 2)
}

func TestComputeScheduleMinGapAgainstPinned(t *testing.T) {
	r := speechReq("r1", "stu1", 1, 30)
	r.MinGapDays = 2
	p := Problem{
		WeekOf:   "2026-03-02",
		Students: []model.Student{{ID: "stu1", EligibleLocations: []string{"siteA"}}},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA")},
		},
		Requirements: []model.ServiceRequirement{r},
		Pinned: []model.Session{{
			ID: "pinned1", RequirementID: "r1", TherapistID: "th1", StudentIDs: []string{"stu1"},
			LocationID: "siteA", Day: 0, StartMin: 540, DurationMin: 30, Status: model.SessionScheduled,
		}},
	}
	res, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	require.Empty(t, res.Unmet)
	require.Len(t, res.Sessions, 1)
	require.GreaterOrEqual(t, res.Sessions[0].Day, 2)
}

func TestComputeScheduleRespectsBlackoutsAndCaps(t *testing.T) {
	p := Problem{
		WeekOf: "2026-03-02",
		Students: []model.Student{{
			ID:                "stu1",
			EligibleLocations: []string{"siteA"},
			Blackouts:         []model.BlackoutWindow{{Day: 0, StartMin: 0, EndMin: 1440}},
		}},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA"), MaxSessionsPerDay: 1},
		},
		Requirements: []model.ServiceRequirement{speechReq("r1", "stu1", 3, 30)},
	}
	res, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	require.Empty(t, res.Unmet)
	require.Len(t, res.Sessions, 3)
	seenDay := map[int]bool{}
	for _, s := range res.Sessions {
		require.NotEqual(t, 0, s.Day, "blackout day must stay empty")
		require.False(t, seenDay[s.Day], "daily cap exceeded on day %d", s.Day)
		seenDay[s.Day] = true
	}
}

func TestComputeScheduleDeterministic(t *testing.T) {
	p := Problem{
		WeekOf: "2026-03-02",
		Students: []model.Student{
			{ID: "stu1", EligibleLocations: []string{"siteA"}},
			{ID: "stu2", EligibleLocations: []string{"siteA"}},
		},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA")},
			{ID: "th2", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 480, 840, "siteA")},
		},
		Requirements: []model.ServiceRequirement{
			speechReq("r1", "stu1", 3, 45),
			speechReq("r2", "stu2", 2, 30),
		},
	}
	a, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	b, err := ComputeSchedule(context.Background(), p, time.Second)
	require.NoError(t, err)
	require.Equal(t, a.Sessions, b.Sessions)
	require.Equal(t, a.Unmet, b.Unmet)
}

func TestComputeScheduleCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Problem{
		WeekOf:   "2026-03-02",
		Students: []model.Student{{ID: "stu1", EligibleLocations: []string{"siteA"}}},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA")},
		},
		Requirements: []model.ServiceRequirement{speechReq("r1", "stu1", 2, 30)},
	}
	res, err := ComputeSchedule(ctx, p, time.Second)
	require.NoError(t, err)
	require.True(t, res.Partial)
	require.Empty(t, res.Sessions)
	require.NotEmpty(t, res.Unmet)
}

func TestComputeScheduleValidation(t *testing.T) {
	_, err := ComputeSchedule(context.Background(), Problem{WeekOf: "2026-03-02"}, time.Second)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	p := Problem{
		WeekOf:   "2026-03-02",
		Students: []model.Student{{ID: "stu1", EligibleLocations: []string{"siteA"}}},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: weekdayWindows(5, 540, 900, "siteA")},
		},
		Requirements: []model.ServiceRequirement{speechReq("r1", "stuX", 1, 30)},
	}
	_, err = ComputeSchedule(context.Background(), p, time.Second)
	require.ErrorAs(t, err, &verr)
}

func TestWeightsMergeAndMap(t *testing.T) {
	w := DefaultWeights().Merge(map[string]float64{"criticalBoost": 5.0, "travel": 1.5, "bogus": 9})
	require.Equal(t, 5.0, w.CriticalBoost)
	require.Equal(t, 1.5, w.Travel)
	require.Equal(t, DefaultWeights().Spread, w.Spread)

	m := w.Map()
	require.Equal(t, 5.0, m["criticalBoost"])
	require.NotContains(t, m, "bogus")
}

func TestRecordRun(t *testing.T) {
	RecordRun("t_run", "2026-03-02", "compute", RunMetrics{Iterations: 7})
	RecordRun("t_run", "2026-03-02", "reoptimize", RunMetrics{Iterations: 3})
	got := RunsFor("t_run", "2026-03-02")
	require.Len(t, got, 2)
	require.Equal(t, 7, got["compute"].Iterations)
	require.Empty(t, RunsFor("t_run", "2026-03-09"))
}
