package solver

import (
	"context"
	"sort"
	"time"

	"caseplan/internal/model"
)

// CoverageInput is a set of orphaned sessions and the substitute pool with
// its current bookings.
type CoverageInput struct {
	Orphans  []model.CoverageSession
	Pool     []model.Therapist
	Existing []model.Session
	Transit  model.TransitMatrix
}

// PlanCoverage assigns substitutes to orphaned sessions under a strict time
// budget. Critical sessions fill first, then earlier start times. It never
// blocks and never drops input: every orphan lands in exactly one of
// Filled or Unfilled.
func PlanCoverage(ctx context.Context, in CoverageInput, timeBudget time.Duration) model.CoveragePlan {
	if timeBudget <= 0 {
		timeBudget = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeBudget)

	orphans := make([]model.CoverageSession, len(in.Orphans))
	copy(orphans, in.Orphans)
	sort.SliceStable(orphans, func(i, j int) bool {
		a, b := orphans[i], orphans[j]
		ac, bc := a.Priority == model.PriorityCritical, b.Priority == model.PriorityCritical
		if ac != bc {
			return ac
		}
		if a.Session.Day != b.Session.Day {
			return a.Session.Day < b.Session.Day
		}
		if a.Session.StartMin != b.Session.StartMin {
			return a.Session.StartMin < b.Session.StartMin
		}
		return a.Session.ID < b.Session.ID
	})

	occ := newOccupancy()
	for _, s := range in.Existing {
		occ.add(s)
	}

	plan := model.CoveragePlan{Filled: []model.CoverageAssignment{}, Unfilled: []model.CoverageGap{}}
	for _, o := range orphans {
		if ctx.Err() != nil || time.Now().After(deadline) {
			plan.Unfilled = append(plan.Unfilled, model.CoverageGap{SessionID: o.Session.ID, Reason: model.GapDeadlineExceeded})
			plan.Partial = true
			continue
		}
		sub, load, ok := pickSubstitute(o, in.Pool, occ, in.Transit)
		if !ok {
			plan.Unfilled = append(plan.Unfilled, model.CoverageGap{SessionID: o.Session.ID, Reason: model.GapNoSubstitute})
			continue
		}
		plan.Filled = append(plan.Filled, model.CoverageAssignment{SessionID: o.Session.ID, SubstituteID: sub, Disruption: load})
		s := o.Session
		s.TherapistID = sub
		s.Status = model.SessionCovered
		occ.add(s)
	}
	return plan
}

// pickSubstitute chooses the viable candidate whose schedule the pickup
// disrupts least: lightest same-day load, then lightest week, then cheapest
// travel insertion, then pool order.
func pickSubstitute(o model.CoverageSession, pool []model.Therapist, occ *occupancy, transit model.TransitMatrix) (string, int, bool) {
	ses := o.Session
	bestIdx := -1
	var bestDay, bestWeek, bestTravel int
	for i, t := range pool {
		if !hasSpecialty(t, o.Specialty) {
			continue
		}
		if !windowCovers(t, ses) {
			continue
		}
		if !occ.withinCaps(t, ses.Day) {
			continue
		}
		if !occ.therapistFree(t.ID, ses.Day, ses.StartMin, ses.DurationMin) {
			continue
		}
		free := true
		for _, st := range ses.StudentIDs {
			if !occ.studentFree(st, ses.Day, ses.StartMin, ses.DurationMin) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		dayLoad := occ.dayCount[t.ID][ses.Day]
		weekLoad := occ.weekCount[t.ID]
		travel := travelInsertCost(t.ID, ses, occ, transit)
		if bestIdx == -1 || lessSubstitute(dayLoad, weekLoad, travel, bestDay, bestWeek, bestTravel) {
			bestIdx, bestDay, bestWeek, bestTravel = i, dayLoad, weekLoad, travel
		}
	}
	if bestIdx == -1 {
		return "", 0, false
	}
	return pool[bestIdx].ID, bestDay, true
}

func lessSubstitute(day, week, travel, bestDay, bestWeek, bestTravel int) bool {
	if day != bestDay {
		return day < bestDay
	}
	if week != bestWeek {
		return week < bestWeek
	}
	return travel < bestTravel
}

func windowCovers(t model.Therapist, s model.Session) bool {
	for _, w := range t.Windows {
		if w.Day == s.Day && w.LocationID == s.LocationID && w.StartMin <= s.StartMin && s.EndMin() <= w.EndMin {
			return true
		}
	}
	return false
}

func travelInsertCost(therapistID string, ses model.Session, occ *occupancy, transit model.TransitMatrix) int {
	day := occ.sessionsOn(therapistID, ses.Day)
	var prev, next *model.Session
	for i := range day {
		if day[i].EndMin() <= ses.StartMin {
			prev = &day[i]
		}
		if day[i].StartMin >= ses.EndMin() && next == nil {
			next = &day[i]
		}
	}
	cost := 0
	if prev != nil {
		cost += transit.Between(prev.LocationID, ses.LocationID)
	}
	if next != nil {
		cost += transit.Between(ses.LocationID, next.LocationID)
	}
	if prev != nil && next != nil {
		cost -= transit.Between(prev.LocationID, next.LocationID)
	}
	return cost
}
