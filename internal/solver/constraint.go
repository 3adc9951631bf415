package solver

import (
	"fmt"
	"sort"

	"caseplan/internal/model"
)

// ValidationError is the only fatal failure the solver raises; everything
// combinatorial resolves to a partial result instead.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// slot is one concrete placement option for a requirement session.
type slot struct {
	TherapistIdx int
	TherapistID  string
	Day          int
	StartMin     int
	LocationID   string
}

func overlapMin(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// occupancy tracks booked time per therapist and per student so hard
// constraints (no double-booking, daily/weekly caps) stay O(1)-ish to check.
type occupancy struct {
	byTherapist map[string][]model.Session
	byStudent   map[string][]model.Session
	dayCount    map[string]map[int]int
	weekCount   map[string]int
}

func newOccupancy() *occupancy {
	return &occupancy{
		byTherapist: map[string][]model.Session{},
		byStudent:   map[string][]model.Session{},
		dayCount:    map[string]map[int]int{},
		weekCount:   map[string]int{},
	}
}

func (o *occupancy) add(s model.Session) {
	o.byTherapist[s.TherapistID] = append(o.byTherapist[s.TherapistID], s)
	for _, st := range s.StudentIDs {
		o.byStudent[st] = append(o.byStudent[st], s)
	}
	if o.dayCount[s.TherapistID] == nil {
		o.dayCount[s.TherapistID] = map[int]int{}
	}
	o.dayCount[s.TherapistID][s.Day]++
	o.weekCount[s.TherapistID]++
}

func (o *occupancy) remove(s model.Session) {
	o.byTherapist[s.TherapistID] = dropSession(o.byTherapist[s.TherapistID], s.ID)
	for _, st := range s.StudentIDs {
		o.byStudent[st] = dropSession(o.byStudent[st], s.ID)
	}
	if m := o.dayCount[s.TherapistID]; m != nil {
		m[s.Day]--
	}
	o.weekCount[s.TherapistID]--
}

func dropSession(list []model.Session, id string) []model.Session {
	out := list[:0]
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func (o *occupancy) therapistFree(id string, day, start, dur int) bool {
	for _, s := range o.byTherapist[id] {
		if s.Day == day && overlapMin(start, start+dur, s.StartMin, s.EndMin()) {
			return false
		}
	}
	return true
}

func (o *occupancy) studentFree(studentID string, day, start, dur int) bool {
	for _, s := range o.byStudent[studentID] {
		if s.Day == day && overlapMin(start, start+dur, s.StartMin, s.EndMin()) {
			return false
		}
	}
	return true
}

func (o *occupancy) withinCaps(t model.Therapist, day int) bool {
	if t.MaxSessionsPerDay > 0 && o.dayCount[t.ID][day] >= t.MaxSessionsPerDay {
		return false
	}
	if t.MaxSessionsPerWeek > 0 && o.weekCount[t.ID] >= t.MaxSessionsPerWeek {
		return false
	}
	return true
}

// sessionsOn returns the therapist's sessions for one day ordered by start.
func (o *occupancy) sessionsOn(therapistID string, day int) []model.Session {
	var out []model.Session
	for _, s := range o.byTherapist[therapistID] {
		if s.Day == day {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMin < out[j].StartMin })
	return out
}

func hasSpecialty(t model.Therapist, specialty string) bool {
	for _, s := range t.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}

func containsLoc(locs []string, loc string) bool {
	for _, l := range locs {
		if l == loc {
			return true
		}
	}
	return false
}

func intersectLocs(a, b []string) []string {
	var out []string
	for _, l := range a {
		if containsLoc(b, l) {
			out = append(out, l)
		}
	}
	return out
}

func studentBlackout(st model.Student, day, start, dur int) bool {
	for _, b := range st.Blackouts {
		if b.Day == day && overlapMin(start, start+dur, b.StartMin, b.EndMin) {
			return true
		}
	}
	return false
}

// staticCandidates enumerates every slot a requirement could occupy on an
// empty calendar: availability windows, allowed locations, student
// eligibility and blackouts. Occupancy is checked later, at placement time.
func staticCandidates(req model.ServiceRequirement, st model.Student, therapists []model.Therapist, days, step int, absent func(therapistID string, day int) bool) []slot {
	allowed := intersectLocs(req.AllowedLocations, st.EligibleLocations)
	var out []slot
	for ti, t := range therapists {
		if !hasSpecialty(t, req.Specialty) {
			continue
		}
		for _, w := range t.Windows {
			if w.Day < 0 || w.Day >= days {
				continue
			}
			if !containsLoc(allowed, w.LocationID) {
				continue
			}
			if absent != nil && absent(t.ID, w.Day) {
				continue
			}
			for start := w.StartMin; start+req.DurationMin <= w.EndMin; start += step {
				if studentBlackout(st, w.Day, start, req.DurationMin) {
					continue
				}
				out = append(out, slot{TherapistIdx: ti, TherapistID: t.ID, Day: w.Day, StartMin: start, LocationID: w.LocationID})
			}
		}
	}
	return out
}

// unplaceableReason classifies why a requirement has zero static candidates.
func unplaceableReason(req model.ServiceRequirement, st model.Student, therapists []model.Therapist) string {
	specialtyMatch := false
	for _, t := range therapists {
		if hasSpecialty(t, req.Specialty) {
			specialtyMatch = true
			break
		}
	}
	if !specialtyMatch {
		return model.ReasonNoCompatibleTherapist
	}
	allowed := intersectLocs(req.AllowedLocations, st.EligibleLocations)
	for _, t := range therapists {
		if !hasSpecialty(t, req.Specialty) {
			continue
		}
		for _, w := range t.Windows {
			if containsLoc(allowed, w.LocationID) {
				// a shared location exists; the windows were just too tight
				return model.ReasonNoAvailableSlot
			}
		}
	}
	return model.ReasonLocationConflict
}

func validateProblem(p *Problem) error {
	if p.Days <= 0 {
		p.Days = 5
	}
	if p.SlotStepMin <= 0 {
		p.SlotStepMin = 15
	}
	if len(p.Therapists) == 0 {
		return validationf("therapists", "at least one therapist required")
	}
	students := map[string]bool{}
	for _, st := range p.Students {
		students[st.ID] = true
	}
	for i, t := range p.Therapists {
		if len(t.Windows) == 0 {
			return validationf(fmt.Sprintf("therapists[%d]", i), "therapist %s has no availability windows", t.ID)
		}
		for _, w := range t.Windows {
			if w.StartMin >= w.EndMin {
				return validationf(fmt.Sprintf("therapists[%d]", i), "window start must precede end")
			}
		}
	}
	for i, r := range p.Requirements {
		switch {
		case r.DurationMin <= 0:
			return validationf(fmt.Sprintf("requirements[%d]", i), "duration must be positive")
		case r.SessionsPerWeek <= 0:
			return validationf(fmt.Sprintf("requirements[%d]", i), "sessionsPerWeek must be positive")
		case len(r.AllowedLocations) == 0:
			return validationf(fmt.Sprintf("requirements[%d]", i), "requirement %s has no allowed locations", r.ID)
		case !students[r.StudentID]:
			return validationf(fmt.Sprintf("requirements[%d]", i), "unknown student %s", r.StudentID)
		}
	}
	return nil
}
