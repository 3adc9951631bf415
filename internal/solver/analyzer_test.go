package solver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"caseplan/internal/model"
)

func TestAnalyzeProductivity(t *testing.T) {
	therapists := []model.Therapist{
		{ID: "th1", Windows: []model.AvailabilityWindow{{Day: 0, StartMin: 480, EndMin: 960, LocationID: "siteA"}}, ProductivityTarget: 0.5},
		{ID: "th2", Windows: []model.AvailabilityWindow{{Day: 0, StartMin: 480, EndMin: 960, LocationID: "siteA"}}},
	}
	sch := model.Schedule{
		ID: "sch1", WeekOf: "2026-03-02", Version: 3,
		Sessions: []model.Session{
			{ID: "s1", TherapistID: "th1", StudentIDs: []string{"stu1"}, Day: 0, StartMin: 540, DurationMin: 30, Status: model.SessionScheduled},
			{ID: "s2", TherapistID: "th1", StudentIDs: []string{"stu2"}, Day: 0, StartMin: 600, DurationMin: 30, Status: model.SessionScheduled},
			{ID: "s3", TherapistID: "th2", StudentIDs: []string{"stu3"}, Day: 0, StartMin: 540, DurationMin: 30, Status: model.SessionScheduled},
			{ID: "s4", TherapistID: "th2", StudentIDs: []string{"stu4"}, Day: 0, StartMin: 700, DurationMin: 30, Status: model.SessionCancelled},
		},
	}
	rep := Analyze(sch, therapists, DefaultAnalyzerConfig())
	require.Equal(t, "sch1", rep.ScheduleID)
	require.Equal(t, 3, rep.Version)
	require.Equal(t, 90, rep.TotalDirectMin)
	require.Equal(t, 30, rep.TotalIndirectMin)
	require.Len(t, rep.Therapists, 2)

	th1 := rep.Therapists[0]
	require.Equal(t, "th1", th1.TherapistID)
	require.Equal(t, 60, th1.DirectMin)
	require.Equal(t, 20, th1.IndirectMin)
	require.Equal(t, 480, th1.WorkingMin)
	require.InDelta(t, 0.125, th1.Ratio, 1e-9)
	require.True(t, th1.BelowTarget)
	require.InDelta(t, 30.0, th1.FragmentationMin, 1e-9) // 600 start minus 570 end

	th2 := rep.Therapists[1]
	require.Equal(t, 30, th2.DirectMin, "cancelled sessions do not count")
	require.False(t, th2.BelowTarget, "no target set")
	require.Zero(t, th2.FragmentationMin)

	// weighted units 80 vs 40: mean 60, stddev 20
	require.InDelta(t, 20.0, rep.BalanceStdDev, 1e-9)
}

func TestAnalyzeEmptySchedule(t *testing.T) {
	rep := Analyze(model.Schedule{}, nil, AnalyzerConfig{})
	require.Zero(t, rep.TotalDirectMin)
	require.Zero(t, rep.BalanceStdDev)
	require.Empty(t, rep.Therapists)
}
