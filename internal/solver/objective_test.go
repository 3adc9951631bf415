package solver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"caseplan/internal/model"
)

// The objective sums floats over per-requirement and per-therapist buckets;
// the traversal order is sorted, so repeated evaluations of the same
// assignment must agree to the last bit.
func TestObjectiveRepeatable(t *testing.T) {
	reqs := map[string]model.ServiceRequirement{}
	var sessions []model.Session
	ids := []string{"r1", "r2", "r3", "r4", "r5", "r6"}
	locs := []string{"siteA", "siteB", "siteC"}
	for i, id := range ids {
		prio := model.PriorityStandard
		if i%2 == 0 {
			prio = model.PriorityCritical
		}
		reqs[id] = model.ServiceRequirement{ID: id, Priority: prio}
		for k := 0; k < 2; k++ {
			sessions = append(sessions, model.Session{
				ID:            id + "_s" + string(rune('a'+k)),
				RequirementID: id,
				TherapistID:   "th" + string(rune('1'+i%3)),
				StudentIDs:    []string{"stu" + id},
				LocationID:    locs[(i+k)%3],
				Day:           (i + 2*k) % 5,
				StartMin:      540 + 30*i + 15*k,
				DurationMin:   30 + 5*i,
				Status:        model.SessionScheduled,
			})
		}
	}
	sc := &solveCtx{
		p: Problem{
			Days:    5,
			Weights: DefaultWeights().Merge(map[string]float64{"spread": 0.1, "travel": 0.3}),
			Transit: model.TransitMatrix{DefaultMin: 7},
		},
		reqs: reqs,
	}
	want := sc.objective(sessions)
	for i := 0; i < 200; i++ {
		require.Equal(t, want, sc.objective(sessions))
	}
}
