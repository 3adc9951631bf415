package solver

import (
	"context"
	"sort"
	"time"

	"caseplan/internal/model"
)

// ReoptimizeInput is an existing valid schedule plus the disruption to
// absorb and the roster context to re-solve against.
type ReoptimizeInput struct {
	Schedule     model.Schedule
	Event        model.DisruptionEvent
	Students     []model.Student
	Therapists   []model.Therapist
	Requirements []model.ServiceRequirement
	Transit      model.TransitMatrix
	Weights      Weights
	Days         int
	SlotStepMin  int
}

type ReoptimizeResult struct {
	Schedule model.Schedule
	Diff     model.ScheduleDiff
	Unmet    []model.UnmetRequirement
	Coverage *model.CoveragePlan // set when a short-notice absence fell through to coverage
	Partial  bool
	Metrics  RunMetrics
}

// Reoptimize resolves the violations a disruption introduces while changing
// as few sessions as possible: only sessions directly invalidated by the
// event are removed, everything else is pinned, and the solver re-runs for
// the orphaned load alone. Orphans a short-notice absence leaves unplaced
// fall through to the coverage planner.
func Reoptimize(ctx context.Context, in ReoptimizeInput, timeBudget time.Duration) (ReoptimizeResult, error) {
	if timeBudget <= 0 {
		timeBudget = 2 * time.Second
	}
	deadline := time.Now().Add(timeBudget)

	therapists := in.Therapists
	var absences []Absence

	switch in.Event.Type {
	case model.EventTherapistAbsence:
		absences = append(absences, Absence{TherapistID: in.Event.TherapistID, FromDay: in.Event.FromDay, ToDay: in.Event.ToDay})
	case model.EventDeparture:
		absences = append(absences, Absence{TherapistID: in.Event.TherapistID, FromDay: in.Event.FromDay, ToDay: 6}) // rest of horizon
	case model.EventAvailabilityChange:
		therapists = replaceWindows(therapists, in.Event.TherapistID, in.Event.NewWindows)
	}

	removed, kept := partitionSessions(in.Schedule.Sessions, in.Event, therapists)

	// orphaned load, expressed as requirement deficits
	deficit := map[string]int{}
	for _, s := range removed {
		if s.RequirementID != "" {
			deficit[s.RequirementID]++
		}
	}
	var orphanReqs []model.ServiceRequirement
	for _, r := range in.Requirements {
		if n := deficit[r.ID]; n > 0 {
			rr := r
			rr.SessionsPerWeek = n
			orphanReqs = append(orphanReqs, rr)
		}
	}
	orphanReqs = append(orphanReqs, in.Event.NewRequirements...)

	p := Problem{
		WeekOf:       in.Schedule.WeekOf,
		Days:         in.Days,
		SlotStepMin:  in.SlotStepMin,
		Students:     in.Students,
		Therapists:   therapists,
		Requirements: orphanReqs,
		Transit:      in.Transit,
		Weights:      in.Weights,
		Pinned:       kept,
		Absences:     absences,
	}
	res, err := ComputeSchedule(ctx, p, time.Until(deadline))
	if err != nil {
		return ReoptimizeResult{}, err
	}

	out := ReoptimizeResult{
		Unmet:   res.Unmet,
		Partial: res.Partial,
		Metrics: res.Metrics,
	}
	added := res.Sessions

	// Short-notice absence: try substitutes for the orphans the restricted
	// re-solve could not place before reporting them unmet.
	if in.Event.Type == model.EventTherapistAbsence && in.Event.NoticeDays <= 1 && len(out.Unmet) > 0 {
		covered, plan, remaining := coverShortNotice(ctx, in, removed, kept, added, out.Unmet, deadline)
		if plan != nil {
			out.Coverage = plan
			out.Unmet = remaining
			added = append(added, covered...)
		}
	}

	out.Diff = buildDiff(removed, added)

	next := in.Schedule
	next.Sessions = append(append([]model.Session{}, kept...), added...)
	sortSessions(next.Sessions)
	next.Unmet = out.Unmet
	next.Partial = out.Partial
	out.Schedule = next
	return out, nil
}

// partitionSessions splits a schedule into sessions invalidated by the event
// and sessions to pin unchanged.
func partitionSessions(sessions []model.Session, ev model.DisruptionEvent, therapists []model.Therapist) (removed, kept []model.Session) {
	byID := map[string]model.Therapist{}
	for _, t := range therapists {
		byID[t.ID] = t
	}
	for _, s := range sessions {
		hit := false
		switch ev.Type {
		case model.EventTherapistAbsence:
			hit = s.TherapistID == ev.TherapistID && s.Day >= ev.FromDay && s.Day <= ev.ToDay
		case model.EventDeparture:
			hit = s.TherapistID == ev.TherapistID && s.Day >= ev.FromDay
		case model.EventAvailabilityChange:
			if s.TherapistID == ev.TherapistID {
				hit = !sessionInWindows(s, byID[s.TherapistID].Windows)
			}
		}
		if hit {
			removed = append(removed, s)
		} else {
			kept = append(kept, s)
		}
	}
	return removed, kept
}

func sessionInWindows(s model.Session, windows []model.AvailabilityWindow) bool {
	for _, w := range windows {
		if w.Day == s.Day && w.LocationID == s.LocationID && w.StartMin <= s.StartMin && s.EndMin() <= w.EndMin {
			return true
		}
	}
	return false
}

func replaceWindows(therapists []model.Therapist, id string, windows []model.AvailabilityWindow) []model.Therapist {
	out := make([]model.Therapist, len(therapists))
	copy(out, therapists)
	for i := range out {
		if out[i].ID == id {
			out[i].Windows = windows
		}
	}
	return out
}

// buildDiff pairs removed and added sessions of the same requirement as
// moves; leftovers are plain removals/additions.
func buildDiff(removed, added []model.Session) model.ScheduleDiff {
	diff := model.ScheduleDiff{Added: []model.Session{}, Removed: []model.Session{}, Moved: []model.SessionMove{}}
	usedAdd := make([]bool, len(added))
	for _, r := range removed {
		matched := false
		for i, a := range added {
			if !usedAdd[i] && a.RequirementID != "" && a.RequirementID == r.RequirementID {
				diff.Moved = append(diff.Moved, model.SessionMove{Before: r, After: a})
				usedAdd[i] = true
				matched = true
				break
			}
		}
		if !matched {
			diff.Removed = append(diff.Removed, r)
		}
	}
	for i, a := range added {
		if !usedAdd[i] {
			diff.Added = append(diff.Added, a)
		}
	}
	return diff
}

// coverShortNotice maps still-unmet orphans back to their removed sessions
// and runs the coverage planner over the remaining therapists.
func coverShortNotice(ctx context.Context, in ReoptimizeInput, removed, kept, added []model.Session, unmet []model.UnmetRequirement, deadline time.Time) ([]model.Session, *model.CoveragePlan, []model.UnmetRequirement) {
	reqByID := map[string]model.ServiceRequirement{}
	for _, r := range in.Requirements {
		reqByID[r.ID] = r
	}
	need := map[string]int{}
	for _, u := range unmet {
		need[u.RequirementID] = u.Deficit
	}

	var orphans []model.CoverageSession
	for _, s := range removed {
		if need[s.RequirementID] > 0 {
			r := reqByID[s.RequirementID]
			orphans = append(orphans, model.CoverageSession{Session: s, Priority: r.Priority, Specialty: r.Specialty})
			need[s.RequirementID]--
		}
	}
	if len(orphans) == 0 {
		return nil, nil, unmet
	}

	var pool []model.Therapist
	for _, t := range in.Therapists {
		if t.ID != in.Event.TherapistID {
			pool = append(pool, t)
		}
	}
	existing := append(append([]model.Session{}, kept...), added...)
	plan := PlanCoverage(ctx, CoverageInput{
		Orphans:  orphans,
		Pool:     pool,
		Existing: existing,
		Transit:  in.Transit,
	}, time.Until(deadline))

	filledFor := map[string]string{} // orphan session id -> substitute
	for _, f := range plan.Filled {
		filledFor[f.SessionID] = f.SubstituteID
	}
	coveredCount := map[string]int{}
	var covered []model.Session
	for _, o := range orphans {
		sub, ok := filledFor[o.Session.ID]
		if !ok {
			continue
		}
		s := o.Session
		s.TherapistID = sub
		s.Status = model.SessionCovered
		covered = append(covered, s)
		coveredCount[s.RequirementID]++
	}

	var remaining []model.UnmetRequirement
	for _, u := range unmet {
		u.Deficit -= coveredCount[u.RequirementID]
		if u.Deficit > 0 {
			remaining = append(remaining, u)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].RequirementID < remaining[j].RequirementID })
	return covered, &plan, remaining
}
