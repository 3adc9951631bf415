package api

import (
	"fmt"

	"caseplan/internal/model"
)

func validateTransit(t *model.TransitMatrix) error {
	if t == nil {
		return nil
	}
	if t.DefaultMin < 0 {
		return fmt.Errorf("transit.defaultMin must be >= 0")
	}
	for from, row := range t.Minutes {
		for to, v := range row {
			if v < 0 {
				return fmt.Errorf("transit.minutes[%s][%s] must be >= 0", from, to)
			}
		}
	}
	return nil
}

func validateComputeRequest(req *model.ComputeRequest) error {
	if req.WeekOf == "" {
		return fmt.Errorf("weekOf is required")
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if req.Days < 0 || req.Days > 7 {
		return fmt.Errorf("days must be in [0,7]")
	}
	if req.SlotStepMin < 0 {
		return fmt.Errorf("slotStepMin must be >= 0")
	}
	if len(req.Therapists) == 0 {
		return fmt.Errorf("at least one therapist is required")
	}
	if len(req.Requirements) == 0 {
		return fmt.Errorf("at least one requirement is required")
	}
	return validateTransit(req.Transit)
}

func validateReoptimizeRequest(req *model.ReoptimizeRequest) error {
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	switch req.Event.Type {
	case model.EventTherapistAbsence, model.EventDeparture:
		if req.Event.TherapistID == "" {
			return fmt.Errorf("event.therapistId is required for %s", req.Event.Type)
		}
		if req.Event.FromDay < 0 || req.Event.ToDay < req.Event.FromDay {
			return fmt.Errorf("event day range is invalid")
		}
	case model.EventAvailabilityChange:
		if req.Event.TherapistID == "" {
			return fmt.Errorf("event.therapistId is required for %s", req.Event.Type)
		}
		if len(req.Event.NewWindows) == 0 {
			return fmt.Errorf("event.newWindows is required for %s", req.Event.Type)
		}
	case model.EventNewEnrollment:
		if req.Event.StudentID == "" {
			return fmt.Errorf("event.studentId is required for %s", req.Event.Type)
		}
		if len(req.Event.NewRequirements) == 0 {
			return fmt.Errorf("event.newRequirements is required for %s", req.Event.Type)
		}
	default:
		return fmt.Errorf("unknown event type: %s", req.Event.Type)
	}
	return validateTransit(req.Transit)
}

func validateCoverageRequest(req *model.CoverageRequest) error {
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if len(req.Orphans) == 0 {
		return fmt.Errorf("at least one orphaned session is required")
	}
	for i, o := range req.Orphans {
		if o.Session.ID == "" {
			return fmt.Errorf("orphans[%d].session.id is required", i)
		}
		if o.Specialty == "" {
			return fmt.Errorf("orphans[%d].specialty is required", i)
		}
	}
	return validateTransit(req.Transit)
}

func validateRouteRequest(req *model.RouteRequest) error {
	if req.Day < 0 || req.Day > 6 {
		return fmt.Errorf("day must be in [0,6]")
	}
	seen := map[string]bool{}
	for i, st := range req.Stops {
		if st.SessionID == "" {
			return fmt.Errorf("stops[%d].sessionId is required", i)
		}
		if seen[st.SessionID] {
			return fmt.Errorf("duplicate stop sessionId: %s", st.SessionID)
		}
		seen[st.SessionID] = true
		if st.DurationMin <= 0 {
			return fmt.Errorf("stops[%d].durationMin must be > 0", i)
		}
	}
	return validateTransit(&req.Transit)
}
