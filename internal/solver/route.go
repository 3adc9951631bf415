package solver

import (
	"sort"

	"caseplan/internal/model"
)

// OptimizeRoute sequences one therapist's day across locations, minimizing
// total transit while respecting fixed start times. Fixed-start sessions are
// checkpoints kept in chronological order; free-start sessions are slotted
// around them by cheapest insertion and then improved with 2-opt over the
// free positions. Infeasible windows produce violations, never dropped stops.
func OptimizeRoute(stops []model.RouteStop, transit model.TransitMatrix) (model.RoutePlan, []model.WindowViolation) {
	if len(stops) == 0 {
		return model.RoutePlan{Stops: []model.RouteStop{}}, nil
	}

	var fixed, free []model.RouteStop
	for _, s := range stops {
		if s.FixedStart {
			fixed = append(fixed, s)
		} else {
			free = append(free, s)
		}
	}
	sort.SliceStable(fixed, func(i, j int) bool {
		if fixed[i].StartMin != fixed[j].StartMin {
			return fixed[i].StartMin < fixed[j].StartMin
		}
		return fixed[i].SessionID < fixed[j].SessionID
	})

	seq := append([]model.RouteStop{}, fixed...)
	for _, f := range free {
		seq = insertBest(seq, f, transit)
	}
	seq = twoOptFree(seq, transit)

	plan, violations := walkRoute(seq, transit)
	return plan, violations
}

// insertBest puts a free stop at the position that induces the least total
// checkpoint lateness, breaking ties by transit delta: a slot that squeezes a
// stop between checkpoints is never taken at the cost of making one late when
// a lateness-free position exists. All positions are legal for free stops;
// fixed stops never move relative to each other. Full ties resolve to the
// latest position, so a flat matrix keeps free stops in input order behind
// the checkpoints.
func insertBest(seq []model.RouteStop, stop model.RouteStop, transit model.TransitMatrix) []model.RouteStop {
	best := insertAt(seq, stop, len(seq))
	bestLate := routeLateness(best, transit)
	bestTransit := routeTransit(best, transit)
	for pos := len(seq) - 1; pos >= 0; pos-- {
		cand := insertAt(seq, stop, pos)
		late := routeLateness(cand, transit)
		tr := routeTransit(cand, transit)
		if late < bestLate || (late == bestLate && tr < bestTransit) {
			best, bestLate, bestTransit = cand, late, tr
		}
	}
	return best
}

func insertAt(seq []model.RouteStop, stop model.RouteStop, pos int) []model.RouteStop {
	out := make([]model.RouteStop, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, stop)
	out = append(out, seq[pos:]...)
	return out
}

// twoOptFree applies 2-opt restricted to segments containing no fixed stop,
// so checkpoint order is preserved. Acceptance is lexicographic on
// (total lateness, transit): a reversal never trades a late checkpoint for
// shorter driving.
func twoOptFree(seq []model.RouteStop, transit model.TransitMatrix) []model.RouteStop {
	n := len(seq)
	curLate := routeLateness(seq, transit)
	curTransit := routeTransit(seq, transit)
	improved := true
	for improved {
		improved = false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				if segmentHasFixed(seq, i, k) {
					continue
				}
				cand := reverseSegment(seq, i, k)
				late := routeLateness(cand, transit)
				tr := routeTransit(cand, transit)
				if late < curLate || (late == curLate && tr < curTransit) {
					seq, curLate, curTransit = cand, late, tr
					improved = true
				}
			}
		}
	}
	return seq
}

// routeLateness is the summed minutes by which fixed stops miss their start
// times when the sequence is walked.
func routeLateness(seq []model.RouteStop, transit model.TransitMatrix) int {
	_, violations := walkRoute(seq, transit)
	total := 0
	for _, v := range violations {
		total += v.LateMin
	}
	return total
}

func segmentHasFixed(seq []model.RouteStop, i, k int) bool {
	for j := i; j <= k; j++ {
		if seq[j].FixedStart {
			return true
		}
	}
	return false
}

func reverseSegment(seq []model.RouteStop, i, k int) []model.RouteStop {
	out := make([]model.RouteStop, len(seq))
	copy(out, seq)
	for a, b := i, k; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

func routeTransit(seq []model.RouteStop, transit model.TransitMatrix) int {
	total := 0
	for i := 1; i < len(seq); i++ {
		total += transit.Between(seq[i-1].LocationID, seq[i].LocationID)
	}
	return total
}

// walkRoute propagates arrival times through the sequence. Fixed stops that
// cannot be reached in time are flagged late; free stops start at arrival or
// their earliest start, whichever is later.
func walkRoute(seq []model.RouteStop, transit model.TransitMatrix) (model.RoutePlan, []model.WindowViolation) {
	plan := model.RoutePlan{Stops: make([]model.RouteStop, 0, len(seq))}
	var violations []model.WindowViolation
	t := 0
	for i, s := range seq {
		tr := 0
		if i > 0 {
			tr = transit.Between(seq[i-1].LocationID, s.LocationID)
		}
		arrival := t + tr
		if i == 0 {
			arrival = s.StartMin
		}
		start := arrival
		if s.FixedStart {
			if arrival > s.StartMin {
				violations = append(violations, model.WindowViolation{SessionID: s.SessionID, LateMin: arrival - s.StartMin})
			} else {
				start = s.StartMin
			}
		} else if s.StartMin > start {
			start = s.StartMin
		}
		out := s
		out.StartMin = start
		out.TransitFromPrevMin = tr
		plan.Stops = append(plan.Stops, out)
		plan.TotalTransitMin += tr
		t = start + s.DurationMin
	}
	plan.Violations = violations
	return plan, violations
}
