package solver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"caseplan/internal/model"
)

// Absence masks a therapist out of a day range without touching the roster.
type Absence struct {
	TherapistID string
	FromDay     int
	ToDay       int
}

// Problem is the full input to one solve. Pinned sessions are treated as
// immovable occupancy: the solver schedules around them and never edits them.
type Problem struct {
	WeekOf       string
	Days         int // planning days in the horizon, default 5
	SlotStepMin  int // slot grid granularity, default 15
	Students     []model.Student
	Therapists   []model.Therapist
	Requirements []model.ServiceRequirement
	Transit      model.TransitMatrix
	Weights      Weights
	Pinned       []model.Session
	Absences     []Absence

	// NoImproveLimit stops local search after this many sweeps without an
	// accepted move (default 1: a full sweep with no improvement is a local
	// optimum under deterministic first-improvement).
	NoImproveLimit int
}

// RunMetrics describes one solve for observability and tuning.
type RunMetrics struct {
	Iterations       int     `json:"iterations"`
	Relocations      int     `json:"relocations"`
	Swaps            int     `json:"swaps"`
	Improvements     int     `json:"improvements"`
	InitialObjective float64 `json:"initialObjective"`
	FinalObjective   float64 `json:"finalObjective"`
	ElapsedMs        int64   `json:"elapsedMs"`
	Partial          bool    `json:"partial"`
}

// Result carries the sessions placed for this problem's requirements (pinned
// sessions are not repeated here), the explicit unmet list, and run metrics.
type Result struct {
	Sessions []model.Session
	Unmet    []model.UnmetRequirement
	Partial  bool
	Metrics  RunMetrics
}

type solveCtx struct {
	p          Problem
	students   map[string]model.Student
	therapists map[string]model.Therapist
	reqs       map[string]model.ServiceRequirement
	occ        *occupancy
	sessions   []model.Session // working set, excludes pinned
	candidates map[string][]slot
	contention map[string]map[int]int // therapistID -> day -> competing requirements
	pinnedDays map[string][]int       // requirementID -> days already held by pinned sessions
}

// ComputeSchedule assigns every requirement to concrete sessions, maximizing
// the weighted objective under the hard constraints. It never fails on
// infeasibility: unplaceable requirements come back in the unmet list. The
// only error is malformed input. On deadline or cancellation the best
// assignment found so far is returned with Partial set.
func ComputeSchedule(ctx context.Context, p Problem, timeBudget time.Duration) (Result, error) {
	if err := validateProblem(&p); err != nil {
		return Result{}, err
	}
	if p.NoImproveLimit <= 0 {
		p.NoImproveLimit = 1
	}
	if timeBudget <= 0 {
		timeBudget = 2 * time.Second
	}
	started := time.Now()
	deadline := started.Add(timeBudget)

	sc := &solveCtx{
		p:          p,
		students:   map[string]model.Student{},
		therapists: map[string]model.Therapist{},
		reqs:       map[string]model.ServiceRequirement{},
		occ:        newOccupancy(),
		candidates: map[string][]slot{},
		contention: map[string]map[int]int{},
		pinnedDays: map[string][]int{},
	}
	for _, st := range p.Students {
		sc.students[st.ID] = st
	}
	for _, t := range p.Therapists {
		sc.therapists[t.ID] = t
	}
	for _, r := range p.Requirements {
		sc.reqs[r.ID] = r
	}
	for _, s := range p.Pinned {
		sc.occ.add(s)
		if s.RequirementID != "" {
			sc.pinnedDays[s.RequirementID] = append(sc.pinnedDays[s.RequirementID], s.Day)
		}
	}

	res := Result{}
	res.Unmet = sc.construct(ctx, deadline)
	res.Metrics.InitialObjective = sc.objective(sc.allSessions())
	sc.improve(ctx, deadline, &res.Metrics)
	res.Metrics.FinalObjective = sc.objective(sc.allSessions())
	res.Metrics.ElapsedMs = time.Since(started).Milliseconds()

	sortSessions(sc.sessions)
	res.Sessions = sc.sessions
	if expired(ctx, deadline) {
		res.Partial = true
	}
	res.Metrics.Partial = res.Partial
	return res, nil
}

func expired(ctx context.Context, deadline time.Time) bool {
	return ctx.Err() != nil || time.Now().After(deadline)
}

func (sc *solveCtx) absent(therapistID string, day int) bool {
	for _, a := range sc.p.Absences {
		if a.TherapistID == therapistID && day >= a.FromDay && day <= a.ToDay {
			return true
		}
	}
	return false
}

func (sc *solveCtx) allSessions() []model.Session {
	if len(sc.p.Pinned) == 0 {
		return sc.sessions
	}
	all := make([]model.Session, 0, len(sc.p.Pinned)+len(sc.sessions))
	all = append(all, sc.p.Pinned...)
	all = append(all, sc.sessions...)
	return all
}

// construct places requirements greedily: critical tier first, then
// scarcest (fewest compatible slots), then creation order. Each session goes
// to the feasible slot that least constrains what is still unplaced.
func (sc *solveCtx) construct(ctx context.Context, deadline time.Time) []model.UnmetRequirement {
	var unmet []model.UnmetRequirement

	order := make([]model.ServiceRequirement, len(sc.p.Requirements))
	copy(order, sc.p.Requirements)
	for _, r := range order {
		st := sc.students[r.StudentID]
		sc.candidates[r.ID] = staticCandidates(r, st, sc.p.Therapists, sc.p.Days, sc.p.SlotStepMin, sc.absent)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		ac, bc := a.Priority == model.PriorityCritical, b.Priority == model.PriorityCritical
		if ac != bc {
			return ac
		}
		if la, lb := len(sc.candidates[a.ID]), len(sc.candidates[b.ID]); la != lb {
			return la < lb
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})

	// contention: how many requirements compete for each therapist-day
	for _, r := range order {
		seen := map[string]map[int]bool{}
		for _, c := range sc.candidates[r.ID] {
			if seen[c.TherapistID] == nil {
				seen[c.TherapistID] = map[int]bool{}
			}
			if seen[c.TherapistID][c.Day] {
				continue
			}
			seen[c.TherapistID][c.Day] = true
			if sc.contention[c.TherapistID] == nil {
				sc.contention[c.TherapistID] = map[int]int{}
			}
			sc.contention[c.TherapistID][c.Day]++
		}
	}

	for _, r := range order {
		cands := sc.candidates[r.ID]
		if len(cands) == 0 {
			unmet = append(unmet, model.UnmetRequirement{
				RequirementID: r.ID,
				StudentID:     r.StudentID,
				Deficit:       r.SessionsPerWeek,
				Reason:        unplaceableReason(r, sc.students[r.StudentID], sc.p.Therapists),
			})
			continue
		}
		deficit := 0
		var placedDays []int
		for k := 0; k < r.SessionsPerWeek; k++ {
			if expired(ctx, deadline) {
				deficit += r.SessionsPerWeek - k
				break
			}
			best, ok := sc.pickSlot(r, cands, placedDays)
			if !ok {
				deficit++
				continue
			}
			ses := sc.place(r, best, len(placedDays))
			placedDays = append(placedDays, ses.Day)
		}
		if deficit > 0 {
			unmet = append(unmet, model.UnmetRequirement{
				RequirementID: r.ID,
				StudentID:     r.StudentID,
				Deficit:       deficit,
				Reason:        model.ReasonNoAvailableSlot,
			})
		}
	}
	return unmet
}

// pickSlot chooses the feasible candidate that least constrains future
// placements: lowest therapist-day contention, then the student's least
// loaded day, then the cheapest travel insertion. Ties break on (day, start,
// therapist index) for reproducibility.
func (sc *solveCtx) pickSlot(r model.ServiceRequirement, cands []slot, placedDays []int) (slot, bool) {
	var best *scoredSlot
	for _, c := range cands {
		if !sc.feasible(r, c, placedDays) {
			continue
		}
		cur := scoredSlot{
			s:          c,
			contention: sc.contention[c.TherapistID][c.Day],
			dayLoad:    sc.studentDayLoad(r.StudentID, c.Day),
			travel:     sc.travelDelta(c, r.DurationMin),
		}
		if best == nil || lessScored(cur, *best) {
			v := cur
			best = &v
		}
	}
	if best == nil {
		return slot{}, false
	}
	return best.s, true
}

type scoredSlot struct {
	s                           slot
	contention, dayLoad, travel int
}

func lessScored(a, b scoredSlot) bool {
	if a.contention != b.contention {
		return a.contention < b.contention
	}
	if a.dayLoad != b.dayLoad {
		return a.dayLoad < b.dayLoad
	}
	if a.travel != b.travel {
		return a.travel < b.travel
	}
	if a.s.Day != b.s.Day {
		return a.s.Day < b.s.Day
	}
	if a.s.StartMin != b.s.StartMin {
		return a.s.StartMin < b.s.StartMin
	}
	return a.s.TherapistIdx < b.s.TherapistIdx
}

// feasible applies the hard constraints against current occupancy.
func (sc *solveCtx) feasible(r model.ServiceRequirement, c slot, placedDays []int) bool {
	t := sc.therapists[c.TherapistID]
	if !sc.occ.withinCaps(t, c.Day) {
		return false
	}
	if !sc.occ.therapistFree(c.TherapistID, c.Day, c.StartMin, r.DurationMin) {
		return false
	}
	if !sc.occ.studentFree(r.StudentID, c.Day, c.StartMin, r.DurationMin) {
		return false
	}
	if r.MinGapDays > 0 {
		for _, d := range placedDays {
			if abs(d-c.Day) < r.MinGapDays {
				return false
			}
		}
		for _, d := range sc.pinnedDays[r.ID] {
			if abs(d-c.Day) < r.MinGapDays {
				return false
			}
		}
	}
	return true
}

func (sc *solveCtx) studentDayLoad(studentID string, day int) int {
	n := 0
	for _, s := range sc.occ.byStudent[studentID] {
		if s.Day == day {
			n++
		}
	}
	return n
}

// travelDelta approximates the transit cost of slotting a session between
// its temporal neighbors on the therapist's day.
func (sc *solveCtx) travelDelta(c slot, dur int) int {
	day := sc.occ.sessionsOn(c.TherapistID, c.Day)
	var prev, next *model.Session
	for i := range day {
		if day[i].EndMin() <= c.StartMin {
			prev = &day[i]
		}
		if day[i].StartMin >= c.StartMin+dur && next == nil {
			next = &day[i]
		}
	}
	delta := 0
	if prev != nil {
		delta += sc.p.Transit.Between(prev.LocationID, c.LocationID)
	}
	if next != nil {
		delta += sc.p.Transit.Between(c.LocationID, next.LocationID)
	}
	if prev != nil && next != nil {
		delta -= sc.p.Transit.Between(prev.LocationID, next.LocationID)
	}
	return delta
}

func (sc *solveCtx) place(r model.ServiceRequirement, c slot, ordinal int) model.Session {
	ses := model.Session{
		ID:            fmt.Sprintf("ses_%s_%d", r.ID, ordinal),
		RequirementID: r.ID,
		TherapistID:   c.TherapistID,
		StudentIDs:    []string{r.StudentID},
		LocationID:    c.LocationID,
		Day:           c.Day,
		StartMin:      c.StartMin,
		DurationMin:   r.DurationMin,
		Status:        model.SessionScheduled,
	}
	sc.sessions = append(sc.sessions, ses)
	sc.occ.add(ses)
	return ses
}

// improve runs deterministic first-improvement local search: session
// relocations, then pairwise therapist swaps, sweeping until the time budget
// runs out or a sweep yields nothing.
func (sc *solveCtx) improve(ctx context.Context, deadline time.Time, m *RunMetrics) {
	noImprove := 0
	cur := sc.objective(sc.allSessions())
	for {
		if expired(ctx, deadline) {
			return
		}
		improvedInPass := false

		for i := 0; i < len(sc.sessions); i++ {
			if expired(ctx, deadline) {
				return
			}
			m.Iterations++
			if obj, ok := sc.tryRelocate(i, cur); ok {
				cur = obj
				m.Relocations++
				m.Improvements++
				improvedInPass = true
			}
		}
		for i := 0; i < len(sc.sessions); i++ {
			for j := i + 1; j < len(sc.sessions); j++ {
				if expired(ctx, deadline) {
					return
				}
				m.Iterations++
				if obj, ok := sc.trySwap(i, j, cur); ok {
					cur = obj
					m.Swaps++
					m.Improvements++
					improvedInPass = true
				}
			}
		}

		if !improvedInPass {
			noImprove++
			if noImprove >= sc.p.NoImproveLimit {
				return
			}
		} else {
			noImprove = 0
		}
	}
}

// tryRelocate moves session i to the best alternative slot if that strictly
// raises the objective. First-improvement, deterministic candidate order.
func (sc *solveCtx) tryRelocate(i int, cur float64) (float64, bool) {
	ses := sc.sessions[i]
	r, ok := sc.reqs[ses.RequirementID]
	if !ok {
		return 0, false
	}
	otherDays := sc.requirementDays(r.ID, ses.ID)
	sc.occ.remove(ses)
	for _, c := range sc.candidates[r.ID] {
		if c.TherapistID == ses.TherapistID && c.Day == ses.Day && c.StartMin == ses.StartMin && c.LocationID == ses.LocationID {
			continue
		}
		if !sc.feasible(r, c, otherDays) {
			continue
		}
		moved := ses
		moved.TherapistID = c.TherapistID
		moved.LocationID = c.LocationID
		moved.Day = c.Day
		moved.StartMin = c.StartMin
		sc.sessions[i] = moved
		sc.occ.add(moved)
		if obj := sc.objective(sc.allSessions()); obj > cur+1e-9 {
			return obj, true
		}
		sc.occ.remove(moved)
		sc.sessions[i] = ses
	}
	sc.occ.add(ses)
	return 0, false
}

// trySwap exchanges therapists between two same-length sessions when both
// reassignments are feasible and the objective strictly improves.
func (sc *solveCtx) trySwap(i, j int, cur float64) (float64, bool) {
	a, b := sc.sessions[i], sc.sessions[j]
	if a.TherapistID == b.TherapistID || a.DurationMin != b.DurationMin {
		return 0, false
	}
	ra, okA := sc.reqs[a.RequirementID]
	rb, okB := sc.reqs[b.RequirementID]
	if !okA || !okB {
		return 0, false
	}
	sc.occ.remove(a)
	sc.occ.remove(b)
	na, nb := a, b
	na.TherapistID, nb.TherapistID = b.TherapistID, a.TherapistID
	if sc.slotCompatible(ra, na) && sc.slotCompatible(rb, nb) &&
		sc.occ.therapistFree(na.TherapistID, na.Day, na.StartMin, na.DurationMin) &&
		sc.occ.therapistFree(nb.TherapistID, nb.Day, nb.StartMin, nb.DurationMin) {
		sc.sessions[i], sc.sessions[j] = na, nb
		sc.occ.add(na)
		sc.occ.add(nb)
		if obj := sc.objective(sc.allSessions()); obj > cur+1e-9 {
			return obj, true
		}
		sc.occ.remove(na)
		sc.occ.remove(nb)
		sc.sessions[i], sc.sessions[j] = a, b
	}
	sc.occ.add(a)
	sc.occ.add(b)
	return 0, false
}

// slotCompatible checks the static constraints for an already-shaped session
// against a (possibly different) therapist: specialty, window, location.
func (sc *solveCtx) slotCompatible(r model.ServiceRequirement, s model.Session) bool {
	t, ok := sc.therapists[s.TherapistID]
	if !ok || !hasSpecialty(t, r.Specialty) || sc.absent(t.ID, s.Day) {
		return false
	}
	if !sc.occ.withinCaps(t, s.Day) {
		return false
	}
	for _, w := range t.Windows {
		if w.Day == s.Day && w.LocationID == s.LocationID && w.StartMin <= s.StartMin && s.EndMin() <= w.EndMin {
			return true
		}
	}
	return false
}

func (sc *solveCtx) requirementDays(reqID, excludeSessionID string) []int {
	var days []int
	for _, s := range sc.sessions {
		if s.RequirementID == reqID && s.ID != excludeSessionID {
			days = append(days, s.Day)
		}
	}
	return days
}

func sortSessions(list []model.Session) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		if a.TherapistID != b.TherapistID {
			return a.TherapistID < b.TherapistID
		}
		return a.ID < b.ID
	})
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
