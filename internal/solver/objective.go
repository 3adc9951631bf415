package solver

import (
	"math"
	"sort"

	"caseplan/internal/model"
)

// Weights configures the soft objective. The trade-offs are deliberately not
// hard-coded: callers overlay these per tenant or per request.
type Weights struct {
	FulfilledPerMin float64 // reward per scheduled direct-service minute
	CriticalBoost   float64 // multiplier on fulfilled minutes for critical-tier requirements
	Spread          float64 // penalty weight for clustered sessions of one requirement
	Productivity    float64 // penalty weight for therapists below their target ratio
	OverTarget      float64 // milder penalty weight for running far above target
	Travel          float64 // penalty per estimated transit minute
}

func DefaultWeights() Weights {
	return Weights{
		FulfilledPerMin: 1.0,
		CriticalBoost:   2.0,
		Spread:          3.0,
		Productivity:    8.0,
		OverTarget:      0.5,
		Travel:          0.4,
	}
}

// Merge overlays non-zero entries from a config map onto w. Keys match the
// struct fields in lowerCamel form.
func (w Weights) Merge(cfg map[string]float64) Weights {
	for k, v := range cfg {
		switch k {
		case "fulfilledPerMin":
			w.FulfilledPerMin = v
		case "criticalBoost":
			w.CriticalBoost = v
		case "spread":
			w.Spread = v
		case "productivity":
			w.Productivity = v
		case "overTarget":
			w.OverTarget = v
		case "travel":
			w.Travel = v
		}
	}
	return w
}

func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		"fulfilledPerMin": w.FulfilledPerMin,
		"criticalBoost":   w.CriticalBoost,
		"spread":          w.Spread,
		"productivity":    w.Productivity,
		"overTarget":      w.OverTarget,
		"travel":          w.Travel,
	}
}

// objective scores a full assignment (pinned sessions included); higher is
// better. Hard constraints are never traded off here — infeasible moves are
// rejected before scoring.
func (sc *solveCtx) objective(sessions []model.Session) float64 {
	w := sc.p.Weights
	total := 0.0

	byReq := map[string][]model.Session{}
	byTherapistDay := map[string]map[int][]model.Session{}
	directMin := map[string]int{}
	for _, s := range sessions {
		if s.Status == model.SessionCancelled {
			continue
		}
		mult := 1.0
		if r, ok := sc.reqs[s.RequirementID]; ok {
			if r.Priority == model.PriorityCritical {
				mult = w.CriticalBoost
			}
			byReq[s.RequirementID] = append(byReq[s.RequirementID], s)
		}
		total += w.FulfilledPerMin * mult * float64(s.DurationMin)
		if byTherapistDay[s.TherapistID] == nil {
			byTherapistDay[s.TherapistID] = map[int][]model.Session{}
		}
		byTherapistDay[s.TherapistID][s.Day] = append(byTherapistDay[s.TherapistID][s.Day], s)
		directMin[s.TherapistID] += s.DurationMin
	}

	total -= w.Spread * sc.spreadPenalty(byReq)
	total -= w.Travel * float64(sc.travelTotal(byTherapistDay))
	total -= sc.productivityPenalty(directMin, w)
	return total
}

// spreadPenalty pushes a requirement's sessions apart across the week:
// same-day pairs cost a full unit, uneven day gaps cost the deviation from
// the ideal gap. Requirements are visited in sorted order so the float sum is
// identical run to run.
func (sc *solveCtx) spreadPenalty(byReq map[string][]model.Session) float64 {
	reqIDs := make([]string, 0, len(byReq))
	for id := range byReq {
		reqIDs = append(reqIDs, id)
	}
	sort.Strings(reqIDs)
	penalty := 0.0
	for _, reqID := range reqIDs {
		list := byReq[reqID]
		if len(list) < 2 {
			continue
		}
		days := make([]int, 0, len(list))
		for _, s := range list {
			days = append(days, s.Day)
		}
		sort.Ints(days)
		ideal := float64(sc.p.Days) / float64(len(days))
		for i := 1; i < len(days); i++ {
			gap := float64(days[i] - days[i-1])
			if gap == 0 {
				penalty += 1.0
				continue
			}
			penalty += math.Abs(gap-ideal) * 0.25
		}
	}
	return penalty
}

// travelTotal estimates transit minutes across each therapist's day: the sum
// of matrix entries between consecutive distinct session locations. Sorted
// traversal keeps the accumulation order fixed.
func (sc *solveCtx) travelTotal(byTherapistDay map[string]map[int][]model.Session) int {
	tids := make([]string, 0, len(byTherapistDay))
	for id := range byTherapistDay {
		tids = append(tids, id)
	}
	sort.Strings(tids)
	total := 0
	for _, tid := range tids {
		byDay := byTherapistDay[tid]
		days := make([]int, 0, len(byDay))
		for d := range byDay {
			days = append(days, d)
		}
		sort.Ints(days)
		for _, d := range days {
			list := byDay[d]
			sort.Slice(list, func(i, j int) bool { return list[i].StartMin < list[j].StartMin })
			for i := 1; i < len(list); i++ {
				total += sc.p.Transit.Between(list[i-1].LocationID, list[i].LocationID)
			}
		}
	}
	return total
}

// productivityPenalty keeps each therapist's direct-service ratio close to,
// and never below, the target. Shortfall is penalized hard, overshoot mildly.
func (sc *solveCtx) productivityPenalty(directMin map[string]int, w Weights) float64 {
	penalty := 0.0
	for _, t := range sc.p.Therapists {
		if t.ProductivityTarget <= 0 {
			continue
		}
		working := workingMinutes(t)
		if working == 0 {
			continue
		}
		ratio := float64(directMin[t.ID]) / float64(working)
		if ratio < t.ProductivityTarget {
			penalty += w.Productivity * (t.ProductivityTarget - ratio) * float64(working) / 10.0
		} else if ratio > t.ProductivityTarget {
			penalty += w.OverTarget * (ratio - t.ProductivityTarget) * float64(working) / 10.0
		}
	}
	return penalty
}

func workingMinutes(t model.Therapist) int {
	total := 0
	for _, w := range t.Windows {
		total += w.EndMin - w.StartMin
	}
	return total
}
