package model

// Core domain types for caseload scheduling.
//
// All times are minutes from midnight; days index 0..6 from the Monday the
// planning week (WeekOf) starts on.

// Requirement priority tiers.
const (
	PriorityCritical = "critical"
	PriorityStandard = "standard"
)

// Session status values.
const (
	SessionScheduled = "scheduled"
	SessionCancelled = "cancelled"
	SessionCovered   = "covered"
)

// Schedule status values. Prior versions are retained, never deleted.
const (
	ScheduleCurrent    = "current"
	ScheduleSuperseded = "superseded"
)

// Reason codes for requirements the solver could not place.
const (
	ReasonNoCompatibleTherapist = "NoCompatibleTherapist"
	ReasonNoAvailableSlot       = "NoAvailableSlot"
	ReasonLocationConflict      = "LocationConflict"
)

// Disruption event types.
const (
	EventTherapistAbsence   = "TherapistAbsence"
	EventNewEnrollment      = "NewEnrollment"
	EventDeparture          = "Departure"
	EventAvailabilityChange = "AvailabilityChange"
)

// Coverage gap reasons.
const (
	GapNoSubstitute     = "NoAvailableSubstitute"
	GapDeadlineExceeded = "DeadlineExceeded"
)

type AvailabilityWindow struct {
	Day        int    `json:"day"`
	StartMin   int    `json:"startMin"`
	EndMin     int    `json:"endMin"`
	LocationID string `json:"locationId"`
}

type BlackoutWindow struct {
	Day      int `json:"day"`
	StartMin int `json:"startMin"`
	EndMin   int `json:"endMin"`
}

type Student struct {
	ID                string           `json:"id"`
	EligibleLocations []string         `json:"eligibleLocations"`
	Blackouts         []BlackoutWindow `json:"blackouts,omitempty"`
}

type Therapist struct {
	ID                 string               `json:"id"`
	Specialties        []string             `json:"specialties"`
	Windows            []AvailabilityWindow `json:"windows"`
	MaxSessionsPerDay  int                  `json:"maxSessionsPerDay,omitempty"`
	MaxSessionsPerWeek int                  `json:"maxSessionsPerWeek,omitempty"`
	ProductivityTarget float64              `json:"productivityTarget,omitempty"`
}

type ServiceRequirement struct {
	ID               string   `json:"id"`
	StudentID        string   `json:"studentId"`
	SessionsPerWeek  int      `json:"sessionsPerWeek"`
	DurationMin      int      `json:"durationMin"`
	AllowedLocations []string `json:"allowedLocations"`
	Specialty        string   `json:"specialty"`
	Priority         string   `json:"priority,omitempty"` // critical | standard
	MinGapDays       int      `json:"minGapDays,omitempty"`
	Seq              int      `json:"seq,omitempty"` // creation order, construction tie-break
}

// Session is immutable once created; revisions happen only through
// re-optimization or coverage, which emit a new schedule version.
type Session struct {
	ID            string   `json:"id"`
	RequirementID string   `json:"requirementId,omitempty"`
	TherapistID   string   `json:"therapistId"`
	StudentIDs    []string `json:"studentIds"`
	LocationID    string   `json:"locationId"`
	Day           int      `json:"day"`
	StartMin      int      `json:"startMin"`
	DurationMin   int      `json:"durationMin"`
	Status        string   `json:"status"`
	FixedStart    bool     `json:"fixedStart,omitempty"`
}

func (s Session) EndMin() int { return s.StartMin + s.DurationMin }

type UnmetRequirement struct {
	RequirementID string `json:"requirementId"`
	StudentID     string `json:"studentId"`
	Deficit       int    `json:"deficit"` // sessions short of SessionsPerWeek
	Reason        string `json:"reason"`
}

type Schedule struct {
	ID       string             `json:"id"`
	TenantID string             `json:"tenantId,omitempty"`
	SiteID   string             `json:"siteId,omitempty"`
	WeekOf   string             `json:"weekOf"`
	Version  int                `json:"version"`
	Status   string             `json:"status"`
	Sessions []Session          `json:"sessions"`
	Unmet    []UnmetRequirement `json:"unmet,omitempty"`
	Partial  bool               `json:"partial,omitempty"`
}

type DisruptionEvent struct {
	Type            string               `json:"type"`
	TherapistID     string               `json:"therapistId,omitempty"`
	StudentID       string               `json:"studentId,omitempty"`
	FromDay         int                  `json:"fromDay"`
	ToDay           int                  `json:"toDay"`
	NoticeDays      int                  `json:"noticeDays,omitempty"`
	NewWindows      []AvailabilityWindow `json:"newWindows,omitempty"`      // AvailabilityChange
	NewRequirements []ServiceRequirement `json:"newRequirements,omitempty"` // NewEnrollment
}

type SessionMove struct {
	Before Session `json:"before"`
	After  Session `json:"after"`
}

// ScheduleDiff lets downstream calendar/notification systems send targeted
// updates instead of a full resync.
type ScheduleDiff struct {
	Added   []Session     `json:"added"`
	Removed []Session     `json:"removed"`
	Moved   []SessionMove `json:"moved"`
}

// CoverageSession is an orphaned session plus the requirement facts a
// substitute must match.
type CoverageSession struct {
	Session   Session `json:"session"`
	Priority  string  `json:"priority,omitempty"`
	Specialty string  `json:"specialty"`
}

type CoverageAssignment struct {
	SessionID    string `json:"sessionId"`
	SubstituteID string `json:"substituteId"`
	Disruption   int    `json:"disruption"` // substitute's same-day load before the assignment
}

type CoverageGap struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// CoveragePlan accounts for every input session exactly once, across
// Filled (in fill order) and Unfilled.
type CoveragePlan struct {
	ID       string               `json:"id,omitempty"`
	TenantID string               `json:"tenantId,omitempty"`
	Filled   []CoverageAssignment `json:"filled"`
	Unfilled []CoverageGap        `json:"unfilled"`
	Partial  bool                 `json:"partial,omitempty"`
}

// TransitMatrix gives pairwise transit estimates in minutes between
// locations. Missing pairs fall back to DefaultMin.
type TransitMatrix struct {
	Minutes    map[string]map[string]int `json:"minutes,omitempty"`
	DefaultMin int                       `json:"defaultMin,omitempty"`
}

func (t TransitMatrix) Between(from, to string) int {
	if from == "" || to == "" || from == to {
		return 0
	}
	if m, ok := t.Minutes[from]; ok {
		if v, ok := m[to]; ok {
			return v
		}
	}
	if m, ok := t.Minutes[to]; ok {
		if v, ok := m[from]; ok {
			return v
		}
	}
	return t.DefaultMin
}

type RouteStop struct {
	SessionID          string `json:"sessionId"`
	LocationID         string `json:"locationId"`
	StartMin           int    `json:"startMin"` // fixed start, or earliest start when not fixed
	DurationMin        int    `json:"durationMin"`
	FixedStart         bool   `json:"fixedStart,omitempty"`
	TransitFromPrevMin int    `json:"transitFromPrevMin,omitempty"`
}

type WindowViolation struct {
	SessionID string `json:"sessionId"`
	LateMin   int    `json:"lateMin"`
}

type RoutePlan struct {
	TherapistID     string            `json:"therapistId,omitempty"`
	Day             int               `json:"day"`
	Stops           []RouteStop       `json:"stops"`
	TotalTransitMin int               `json:"totalTransitMin"`
	Violations      []WindowViolation `json:"violations,omitempty"`
}

type TherapistProductivity struct {
	TherapistID      string  `json:"therapistId"`
	DirectMin        int     `json:"directMin"`
	IndirectMin      int     `json:"indirectMin"`
	WorkingMin       int     `json:"workingMin"`
	Ratio            float64 `json:"ratio"`
	Target           float64 `json:"target"`
	BelowTarget      bool    `json:"belowTarget"`
	FragmentationMin float64 `json:"fragmentationMin"` // mean idle gap between consecutive same-day sessions
	WeightedUnits    float64 `json:"weightedUnits"`
}

type ProductivityReport struct {
	ScheduleID       string                  `json:"scheduleId,omitempty"`
	WeekOf           string                  `json:"weekOf,omitempty"`
	Version          int                     `json:"version,omitempty"`
	TotalDirectMin   int                     `json:"totalDirectMin"`
	TotalIndirectMin int                     `json:"totalIndirectMin"`
	BalanceStdDev    float64                 `json:"balanceStdDev"`
	Therapists       []TherapistProductivity `json:"therapists"`
}

// API request shapes.

type ComputeRequest struct {
	TenantID     string               `json:"tenantId"`
	SiteID       string               `json:"siteId,omitempty"`
	WeekOf       string               `json:"weekOf"`
	Days         int                  `json:"days,omitempty"`
	SlotStepMin  int                  `json:"slotStepMin,omitempty"`
	TimeBudgetMs int                  `json:"timeBudgetMs,omitempty"`
	Students     []Student            `json:"students"`
	Therapists   []Therapist          `json:"therapists"`
	Requirements []ServiceRequirement `json:"requirements"`
	Transit      *TransitMatrix       `json:"transit,omitempty"`
	Weights      map[string]float64   `json:"weights,omitempty"`
}

type ReoptimizeRequest struct {
	TimeBudgetMs int                  `json:"timeBudgetMs,omitempty"`
	Event        DisruptionEvent      `json:"event"`
	Students     []Student            `json:"students"`
	Therapists   []Therapist          `json:"therapists"`
	Requirements []ServiceRequirement `json:"requirements"`
	Transit      *TransitMatrix       `json:"transit,omitempty"`
	Weights      map[string]float64   `json:"weights,omitempty"`
}

type CoverageRequest struct {
	TenantID     string            `json:"tenantId"`
	TimeBudgetMs int               `json:"timeBudgetMs,omitempty"`
	Orphans      []CoverageSession `json:"orphans"`
	Pool         []Therapist       `json:"pool"`
	Existing     []Session         `json:"existing,omitempty"` // pool members' booked sessions
	Transit      *TransitMatrix    `json:"transit,omitempty"`
}

type RouteRequest struct {
	TherapistID string        `json:"therapistId,omitempty"`
	Day         int           `json:"day"`
	Stops       []RouteStop   `json:"stops"`
	Transit     TransitMatrix `json:"transit"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
