package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"caseplan/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WEIGHTS_FILE", "")
	t.Setenv("SOLVE_RATE_RPS", "0")
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func computeBody() []byte {
	req := model.ComputeRequest{
		TenantID: "t_test",
		SiteID:   "main",
		WeekOf:   "2026-03-02",
		Students: []model.Student{
			{ID: "stu1", EligibleLocations: []string{"siteA"}},
		},
		Therapists: []model.Therapist{
			{ID: "th1", Specialties: []string{"speech"}, Windows: []model.AvailabilityWindow{
				{Day: 0, StartMin: 540, EndMin: 900, LocationID: "siteA"},
				{Day: 1, StartMin: 540, EndMin: 900, LocationID: "siteA"},
			}},
		},
		Requirements: []model.ServiceRequirement{
			{ID: "req1", StudentID: "stu1", SessionsPerWeek: 2, DurationMin: 30, AllowedLocations: []string{"siteA"}, Specialty: "speech"},
		},
	}
	b, _ := json.Marshal(req)
	return b
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestComputeAndGetSchedule(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.ComputeHandler, "/v1/schedule/compute", computeBody())
	if rr.Code != 200 {
		t.Fatalf("compute: got %d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Schedule model.Schedule `json:"schedule"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Schedule.ID == "" || out.Schedule.Version != 1 {
		t.Fatalf("unexpected schedule: %+v", out.Schedule)
	}
	if len(out.Schedule.Sessions) != 2 || len(out.Schedule.Unmet) != 0 {
		t.Fatalf("sessions=%d unmet=%d", len(out.Schedule.Sessions), len(out.Schedule.Unmet))
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/schedules/"+out.Schedule.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ScheduleByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get schedule: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SchedulesIndexHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list schedules: got %d", rr.Code)
	}
}

func TestComputeRateLimited(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WEIGHTS_FILE", "")
	t.Setenv("SOLVE_RATE_RPS", "1")
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	rr := postJSON(t, s.ComputeHandler, "/v1/schedule/compute", computeBody())
	if rr.Code != 200 {
		t.Fatalf("first compute: got %d", rr.Code)
	}
	rr = postJSON(t, s.ComputeHandler, "/v1/schedule/compute", computeBody())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var prob Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &prob); err != nil || prob.Status != 429 {
		t.Fatalf("expected problem doc, got %s", rr.Body.String())
	}
}

func TestProductivityTrend(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.ComputeHandler, "/v1/schedule/compute", computeBody())
	if rr.Code != 200 {
		t.Fatalf("compute: got %d", rr.Code)
	}
	var out struct {
		Schedule model.Schedule `json:"schedule"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/schedules/"+out.Schedule.ID+"/productivity?trend=versions", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ScheduleByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("trend: got %d body=%s", rr.Code, rr.Body.String())
	}
	var trend struct {
		Items []model.ProductivityReport `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &trend); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trend.Items) != 1 || trend.Items[0].TotalDirectMin != 60 {
		t.Fatalf("unexpected trend: %+v", trend.Items)
	}
}

func TestComputeValidation(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.ComputeHandler, "/v1/schedule/compute", []byte(`{"weekOf":"2026-03-02"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var prob Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &prob); err != nil || prob.Status != 400 {
		t.Fatalf("expected problem doc, got %s", rr.Body.String())
	}
}

func TestComputeForbiddenForTherapistRole(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule/compute", bytes.NewReader(computeBody()))
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "therapist")
	s.ComputeHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestReoptimizeVersioning(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.ComputeHandler, "/v1/schedule/compute", computeBody())
	if rr.Code != 200 {
		t.Fatalf("compute: got %d", rr.Code)
	}
	var out struct {
		Schedule model.Schedule `json:"schedule"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)

	var base model.ComputeRequest
	_ = json.Unmarshal(computeBody(), &base)
	reopt := model.ReoptimizeRequest{
		Event: model.DisruptionEvent{
			Type:        model.EventTherapistAbsence,
			TherapistID: "th1",
			FromDay:     0,
			ToDay:       0,
			NoticeDays:  5,
		},
		Students:     base.Students,
		Therapists:   base.Therapists,
		Requirements: base.Requirements,
	}
	b, _ := json.Marshal(reopt)
	rr = postJSON(t, s.ScheduleOpsHandler, "/v1/schedule/"+out.Schedule.ID+"/reoptimize", b)
	if rr.Code != 200 {
		t.Fatalf("reoptimize: got %d body=%s", rr.Code, rr.Body.String())
	}
	var rout struct {
		Schedule model.Schedule     `json:"schedule"`
		Diff     model.ScheduleDiff `json:"diff"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rout); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rout.Schedule.Version != 2 {
		t.Fatalf("expected version 2, got %d", rout.Schedule.Version)
	}
	if len(rout.Diff.Moved)+len(rout.Diff.Removed) == 0 {
		t.Fatalf("expected the Monday session to be invalidated: %+v", rout.Diff)
	}

	// a second reoptimize against the superseded id must conflict
	rr = postJSON(t, s.ScheduleOpsHandler, "/v1/schedule/"+out.Schedule.ID+"/reoptimize", b)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on superseded schedule, got %d", rr.Code)
	}
}

func TestCoveragePlanEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := model.CoverageRequest{
		Orphans: []model.CoverageSession{
			{
				Session:   model.Session{ID: "ses1", StudentIDs: []string{"stu1"}, LocationID: "siteA", Day: 0, StartMin: 540, DurationMin: 30},
				Specialty: "speech",
			},
		},
		Pool: []model.Therapist{
			{ID: "sub1", Specialties: []string{"speech"}, Windows: []model.AvailabilityWindow{{Day: 0, StartMin: 480, EndMin: 720, LocationID: "siteA"}}},
		},
	}
	b, _ := json.Marshal(req)
	rr := postJSON(t, s.CoverageHandler, "/v1/coverage/plan", b)
	if rr.Code != 200 {
		t.Fatalf("coverage: got %d body=%s", rr.Code, rr.Body.String())
	}
	var plan model.CoveragePlan
	if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(plan.Filled) != 1 || plan.Filled[0].SubstituteID != "sub1" {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	rr = httptest.NewRecorder()
	get := httptest.NewRequest(http.MethodGet, "/v1/coverage/"+plan.ID, nil)
	get.Header.Set("X-Tenant-Id", "t_test")
	s.CoverageByIDHandler(rr, get)
	if rr.Code != 200 {
		t.Fatalf("get coverage: got %d", rr.Code)
	}
}

func TestRouteOptimizeEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := model.RouteRequest{
		TherapistID: "th1",
		Day:         0,
		Stops: []model.RouteStop{
			{SessionID: "a", LocationID: "siteA", StartMin: 540, DurationMin: 30, FixedStart: true},
			{SessionID: "b", LocationID: "siteB", StartMin: 600, DurationMin: 30},
		},
		Transit: model.TransitMatrix{Minutes: map[string]map[string]int{"siteA": {"siteB": 15}}},
	}
	b, _ := json.Marshal(req)
	rr := postJSON(t, s.RouteOptimizeHandler, "/v1/routes/optimize", b)
	if rr.Code != 200 {
		t.Fatalf("route: got %d body=%s", rr.Code, rr.Body.String())
	}
	var plan model.RoutePlan
	if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(plan.Stops) != 2 || len(plan.Violations) != 0 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestSubscriptionsCRUD(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions",
		[]byte(`{"url":"https://hooks.example/sched","events":["schedule.planned"],"secret":"shh"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: got %d", rr.Code)
	}
	var sub model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list subs: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SubscriptionByIDHandler(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete sub: got %d", rr.Code)
	}
}

func TestAdminSolverConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/solver/config",
		bytes.NewReader([]byte(`{"config":{"criticalBoost":4.0}}`)))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.AdminSolverConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("put config: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/solver/config", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SolverConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get config: got %d", rr.Code)
	}
	var out struct {
		Weights map[string]float64 `json:"weights"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out.Weights["criticalBoost"] != 4.0 {
		t.Fatalf("override not applied: %+v", out.Weights)
	}
}
