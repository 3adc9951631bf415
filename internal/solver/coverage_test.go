package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caseplan/internal/model"
)

func orphan(id string, day, start, dur int, priority string) model.CoverageSession {
	return model.CoverageSession{
		Session: model.Session{
			ID: id, StudentIDs: []string{"stu_" + id}, LocationID: "siteA",
			Day: day, StartMin: start, DurationMin: dur, Status: model.SessionScheduled,
		},
		Priority:  priority,
		Specialty: "speech",
	}
}

func subTherapist(id string) model.Therapist {
	return model.Therapist{
		ID: id, Specialties: []string{"speech"},
		Windows: []model.AvailabilityWindow{{Day: 0, StartMin: 480, EndMin: 960, LocationID: "siteA"}},
	}
}

func TestPlanCoverageAccountsForEveryOrphan(t *testing.T) {
	// two simultaneous orphans, one substitute: exactly one fills
	in := CoverageInput{
		Orphans: []model.CoverageSession{
			orphan("a", 0, 540, 30, ""),
			orphan("b", 0, 540, 30, ""),
		},
		Pool: []model.Therapist{subTherapist("sub1")},
	}
	plan := PlanCoverage(context.Background(), in, time.Second)
	require.Len(t, plan.Filled, 1)
	require.Len(t, plan.Unfilled, 1)
	require.Equal(t, "a", plan.Filled[0].SessionID)
	require.Equal(t, "sub1", plan.Filled[0].SubstituteID)
	require.Equal(t, "b", plan.Unfilled[0].SessionID)
	require.Equal(t, model.GapNoSubstitute, plan.Unfilled[0].Reason)
	require.False(t, plan.Partial)
}

func TestPlanCoverageCriticalFirst(t *testing.T) {
	in := CoverageInput{
		Orphans: []model.CoverageSession{
			orphan("std", 0, 540, 30, model.PriorityStandard),
			orphan("crit", 0, 540, 30, model.PriorityCritical),
		},
		Pool: []model.Therapist{subTherapist("sub1")},
	}
	plan := PlanCoverage(context.Background(), in, time.Second)
	require.Len(t, plan.Filled, 1)
	require.Equal(t, "crit", plan.Filled[0].SessionID)
	require.Equal(t, "std", plan.Unfilled[0].SessionID)
}

func TestPlanCoveragePrefersLeastDisruption(t *testing.T) {
	busy := subTherapist("busy")
	free := subTherapist("free")
	in := CoverageInput{
		Orphans: []model.CoverageSession{orphan("a", 0, 600, 30, "")},
		Pool:    []model.Therapist{busy, free},
		Existing: []model.Session{
			{ID: "x1", TherapistID: "busy", StudentIDs: []string{"stuX"}, LocationID: "siteA", Day: 0, StartMin: 480, DurationMin: 30, Status: model.SessionScheduled},
		},
	}
	plan := PlanCoverage(context.Background(), in, time.Second)
	require.Len(t, plan.Filled, 1)
	require.Equal(t, "free", plan.Filled[0].SubstituteID)
	require.Equal(t, 0, plan.Filled[0].Disruption)
}

func TestPlanCoverageSkipsUnqualified(t *testing.T) {
	ot := subTherapist("ot_only")
	ot.Specialties = []string{"ot"}
	offsite := subTherapist("offsite")
	offsite.Windows = []model.AvailabilityWindow{{Day: 0, StartMin: 480, EndMin: 960, LocationID: "siteB"}}
	in := CoverageInput{
		Orphans: []model.CoverageSession{orphan("a", 0, 540, 30, "")},
		Pool:    []model.Therapist{ot, offsite},
	}
	plan := PlanCoverage(context.Background(), in, time.Second)
	require.Empty(t, plan.Filled)
	require.Len(t, plan.Unfilled, 1)
	require.Equal(t, model.GapNoSubstitute, plan.Unfilled[0].Reason)
}

func TestPlanCoverageDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := CoverageInput{
		Orphans: []model.CoverageSession{orphan("a", 0, 540, 30, "")},
		Pool:    []model.Therapist{subTherapist("sub1")},
	}
	plan := PlanCoverage(ctx, in, time.Second)
	require.True(t, plan.Partial)
	require.Empty(t, plan.Filled)
	require.Len(t, plan.Unfilled, 1)
	require.Equal(t, model.GapDeadlineExceeded, plan.Unfilled[0].Reason)
}
