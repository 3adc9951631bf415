package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"caseplan/internal/buildinfo"
	"caseplan/internal/metrics"
	"caseplan/internal/model"
	"caseplan/internal/solver"
	"caseplan/internal/store"
	"caseplan/internal/webhooks"
)

func derefTransit(t *model.TransitMatrix) model.TransitMatrix {
	if t == nil {
		return model.TransitMatrix{}
	}
	return *t
}

func runMetricsMap(m solver.RunMetrics) map[string]any {
	return map[string]any{
		"iterations":       m.Iterations,
		"relocations":      m.Relocations,
		"swaps":            m.Swaps,
		"improvements":     m.Improvements,
		"initialObjective": m.InitialObjective,
		"finalObjective":   m.FinalObjective,
		"elapsedMs":        m.ElapsedMs,
		"partial":          m.Partial,
	}
}

// tenantWeights layers per-tenant overrides and per-request overrides on the
// server defaults.
func (s *Server) tenantWeights(r *http.Request, tenantID string, reqWeights map[string]float64) solver.Weights {
	w := s.Weights
	if cfg, err := s.Store.GetSolverConfig(r.Context(), tenantID); err == nil && cfg != nil {
		w = w.Merge(cfg)
	}
	if reqWeights != nil {
		w = w.Merge(reqWeights)
	}
	return w
}

func totalDeficit(unmet []model.UnmetRequirement) int {
	n := 0
	for _, u := range unmet {
		n += u.Deficit
	}
	return n
}

// ComputeHandler runs the weekly solver and persists the result as the new
// current schedule version for the tenant/site/week.
func (s *Server) ComputeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, 403, "Forbidden", "scheduler or admin required", r.URL.Path)
		return
	}
	if !s.allowSolve(w, r) {
		return
	}
	var req model.ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateComputeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid compute request", err.Error(), r.URL.Path)
		return
	}
	if req.TenantID == "" {
		req.TenantID = p.Tenant
	}

	prob := solver.Problem{
		WeekOf:       req.WeekOf,
		Days:         req.Days,
		SlotStepMin:  req.SlotStepMin,
		Students:     req.Students,
		Therapists:   req.Therapists,
		Requirements: req.Requirements,
		Transit:      derefTransit(req.Transit),
		Weights:      s.tenantWeights(r, req.TenantID, req.Weights),
	}
	started := time.Now()
	res, err := solver.ComputeSchedule(r.Context(), prob, time.Duration(req.TimeBudgetMs)*time.Millisecond)
	metrics.SolveDuration.WithLabelValues("compute").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SolveRuns.WithLabelValues("compute", "invalid").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid scheduling problem", err.Error(), r.URL.Path)
		return
	}

	sch := model.Schedule{
		TenantID: req.TenantID,
		SiteID:   req.SiteID,
		WeekOf:   req.WeekOf,
		Sessions: res.Sessions,
		Unmet:    res.Unmet,
		Partial:  res.Partial,
	}
	saved, err := s.Store.SaveSchedule(r.Context(), sch)
	if err != nil {
		metrics.SolveRuns.WithLabelValues("compute", "error").Inc()
		writeProblem(w, http.StatusInternalServerError, "Save schedule failed", err.Error(), r.URL.Path)
		return
	}
	outcome := "ok"
	if res.Partial {
		outcome = "partial"
	}
	metrics.SolveRuns.WithLabelValues("compute", outcome).Inc()
	metrics.UnmetRequirements.WithLabelValues(req.TenantID).Set(float64(totalDeficit(res.Unmet)))
	solver.RecordRun(req.TenantID, req.WeekOf, "compute", res.Metrics)
	_ = s.Store.SaveRunMetrics(r.Context(), req.TenantID, req.WeekOf, "compute", runMetricsMap(res.Metrics))

	evt := map[string]any{
		"scheduleId": saved.ID,
		"weekOf":     saved.WeekOf,
		"version":    saved.Version,
		"sessions":   len(saved.Sessions),
		"unmet":      len(saved.Unmet),
		"partial":    saved.Partial,
	}
	s.Pub.Emit(r.Context(), req.TenantID, webhooks.EventSchedulePlanned, evt)
	s.Broker.Publish(saved.ID, SSEEvent{Type: webhooks.EventSchedulePlanned, Data: evt})

	writeJSON(w, http.StatusOK, map[string]any{"schedule": saved, "metrics": res.Metrics})
}

// ScheduleOpsHandler handles POST /v1/schedule/{id}/reoptimize.
func (s *Server) ScheduleOpsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedule/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "reoptimize" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, 403, "Forbidden", "scheduler or admin required", r.URL.Path)
		return
	}
	if !s.allowSolve(w, r) {
		return
	}
	var req model.ReoptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateReoptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid reoptimize request", err.Error(), r.URL.Path)
		return
	}
	sch, err := s.Store.GetSchedule(r.Context(), p.Tenant, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Schedule not found", "", r.URL.Path)
		return
	}
	if sch.Status != model.ScheduleCurrent {
		writeProblem(w, http.StatusConflict, "Schedule superseded", "reoptimize targets the current version only", r.URL.Path)
		return
	}

	in := solver.ReoptimizeInput{
		Schedule:     sch,
		Event:        req.Event,
		Students:     req.Students,
		Therapists:   req.Therapists,
		Requirements: req.Requirements,
		Transit:      derefTransit(req.Transit),
		Weights:      s.tenantWeights(r, p.Tenant, req.Weights),
	}
	started := time.Now()
	res, err := solver.Reoptimize(r.Context(), in, time.Duration(req.TimeBudgetMs)*time.Millisecond)
	metrics.SolveDuration.WithLabelValues("reoptimize").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SolveRuns.WithLabelValues("reoptimize", "invalid").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid reoptimize input", err.Error(), r.URL.Path)
		return
	}

	saved, err := s.Store.SaveSchedule(r.Context(), res.Schedule)
	if err != nil {
		metrics.SolveRuns.WithLabelValues("reoptimize", "error").Inc()
		writeProblem(w, http.StatusInternalServerError, "Save schedule failed", err.Error(), r.URL.Path)
		return
	}
	outcome := "ok"
	if res.Partial {
		outcome = "partial"
	}
	metrics.SolveRuns.WithLabelValues("reoptimize", outcome).Inc()
	metrics.UnmetRequirements.WithLabelValues(p.Tenant).Set(float64(totalDeficit(res.Unmet)))
	solver.RecordRun(p.Tenant, saved.WeekOf, "reoptimize", res.Metrics)
	_ = s.Store.SaveRunMetrics(r.Context(), p.Tenant, saved.WeekOf, "reoptimize", runMetricsMap(res.Metrics))

	var coverage *model.CoveragePlan
	if res.Coverage != nil {
		plan := *res.Coverage
		plan.TenantID = p.Tenant
		savedPlan, err := s.Store.SaveCoveragePlan(r.Context(), plan)
		if err == nil {
			coverage = &savedPlan
		} else {
			coverage = &plan
		}
		for _, gap := range plan.Unfilled {
			metrics.CoverageUnfilled.WithLabelValues(gap.Reason).Inc()
		}
		if len(plan.Unfilled) > 0 {
			s.Pub.Emit(r.Context(), p.Tenant, webhooks.EventCoverageEscalated, map[string]any{
				"coveragePlanId": coverage.ID,
				"scheduleId":     saved.ID,
				"unfilled":       plan.Unfilled,
			})
		}
	}

	evt := map[string]any{
		"scheduleId":     saved.ID,
		"prevScheduleId": id,
		"version":        saved.Version,
		"event":          req.Event.Type,
		"added":          len(res.Diff.Added),
		"removed":        len(res.Diff.Removed),
		"moved":          len(res.Diff.Moved),
		"unmet":          len(res.Unmet),
		"partial":        res.Partial,
	}
	s.Pub.Emit(r.Context(), p.Tenant, webhooks.EventScheduleReoptimized, evt)
	// watchers of the superseded id learn the replacement; watchers of the
	// new id get the full picture
	s.Broker.Publish(id, SSEEvent{Type: webhooks.EventScheduleReoptimized, Data: evt})
	s.Broker.Publish(saved.ID, SSEEvent{Type: webhooks.EventScheduleReoptimized, Data: evt})

	out := map[string]any{
		"schedule": saved,
		"diff":     res.Diff,
		"unmet":    res.Unmet,
		"metrics":  res.Metrics,
	}
	if coverage != nil {
		out["coverage"] = coverage
	}
	writeJSON(w, http.StatusOK, out)
}

// SchedulesIndexHandler lists schedules for the tenant, cursor-paged.
func (s *Server) SchedulesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/schedules" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSchedules(r.Context(), p.Tenant, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List schedules failed", err.Error(), r.URL.Path)
		return
	}
	out := map[string]any{"items": items}
	if next != "" {
		out["nextCursor"] = next
	}
	writeJSON(w, http.StatusOK, out)
}

// ScheduleByIDHandler handles GET /v1/schedules/{id} and the subresources
// /history, /productivity, and /events/stream.
func (s *Server) ScheduleByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedules/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)

	if len(parts) == 3 && parts[1] == "events" && parts[2] == "stream" {
		s.streamScheduleEvents(w, r, p, id)
		return
	}
	if len(parts) == 2 && parts[1] == "history" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sch, err := s.Store.GetSchedule(r.Context(), p.Tenant, id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Schedule not found", "", r.URL.Path)
			return
		}
		hist, err := s.Store.ScheduleHistory(r.Context(), p.Tenant, sch.SiteID, sch.WeekOf)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "History failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": hist})
		return
	}
	if len(parts) == 2 && parts[1] == "productivity" {
		s.productivityReport(w, r, p, id)
		return
	}
	if len(parts) != 1 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sch, err := s.Store.GetSchedule(r.Context(), p.Tenant, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Schedule not found", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// productivityReport serves GET/POST /v1/schedules/{id}/productivity.
// GET reports from the schedule alone; GET with ?trend=versions reports every
// retained version of the week; POST additionally takes the therapist roster
// so working-minute ratios and targets can be evaluated.
func (s *Server) productivityReport(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	sch, err := s.Store.GetSchedule(r.Context(), p.Tenant, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Schedule not found", "", r.URL.Path)
		return
	}
	cfg := solver.DefaultAnalyzerConfig()
	var therapists []model.Therapist
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("trend") != "" {
			hist, err := s.Store.ScheduleHistory(r.Context(), p.Tenant, sch.SiteID, sch.WeekOf)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "History failed", err.Error(), r.URL.Path)
				return
			}
			items := make([]model.ProductivityReport, 0, len(hist))
			for _, h := range hist {
				items = append(items, solver.Analyze(h, nil, cfg))
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
			return
		}
	case http.MethodPost:
		var body struct {
			Therapists            []model.Therapist `json:"therapists"`
			IndirectPerSessionMin int               `json:"indirectPerSessionMin,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		therapists = body.Therapists
		if body.IndirectPerSessionMin > 0 {
			cfg.IndirectPerSessionMin = body.IndirectPerSessionMin
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, solver.Analyze(sch, therapists, cfg))
}

func (s *Server) streamScheduleEvents(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.Store.GetSchedule(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, http.StatusNotFound, "Schedule not found", "", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"scheduleId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"scheduleId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// CoverageHandler runs same-day coverage planning: POST /v1/coverage/plan.
func (s *Server) CoverageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/coverage/plan" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, 403, "Forbidden", "scheduler or admin required", r.URL.Path)
		return
	}
	if !s.allowSolve(w, r) {
		return
	}
	var req model.CoverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateCoverageRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid coverage request", err.Error(), r.URL.Path)
		return
	}
	if req.TenantID == "" {
		req.TenantID = p.Tenant
	}

	started := time.Now()
	plan := solver.PlanCoverage(r.Context(), solver.CoverageInput{
		Orphans:  req.Orphans,
		Pool:     req.Pool,
		Existing: req.Existing,
		Transit:  derefTransit(req.Transit),
	}, time.Duration(req.TimeBudgetMs)*time.Millisecond)
	metrics.SolveDuration.WithLabelValues("coverage").Observe(time.Since(started).Seconds())
	outcome := "ok"
	if plan.Partial {
		outcome = "partial"
	}
	metrics.SolveRuns.WithLabelValues("coverage", outcome).Inc()
	for _, gap := range plan.Unfilled {
		metrics.CoverageUnfilled.WithLabelValues(gap.Reason).Inc()
	}

	plan.TenantID = req.TenantID
	saved, err := s.Store.SaveCoveragePlan(r.Context(), plan)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save coverage plan failed", err.Error(), r.URL.Path)
		return
	}
	s.Pub.Emit(r.Context(), req.TenantID, webhooks.EventCoveragePlanned, map[string]any{
		"coveragePlanId": saved.ID,
		"filled":         len(saved.Filled),
		"unfilled":       len(saved.Unfilled),
	})
	if len(saved.Unfilled) > 0 {
		s.Pub.Emit(r.Context(), req.TenantID, webhooks.EventCoverageEscalated, map[string]any{
			"coveragePlanId": saved.ID,
			"unfilled":       saved.Unfilled,
		})
	}
	writeJSON(w, http.StatusOK, saved)
}

// CoverageByIDHandler handles GET /v1/coverage/{id}.
func (s *Server) CoverageByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/coverage/")
	if rest == "" || rest == "plan" || strings.Contains(rest, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	plan, err := s.Store.GetCoveragePlan(r.Context(), p.Tenant, rest)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Coverage plan not found", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// RouteOptimizeHandler sequences one therapist's day: POST /v1/routes/optimize.
func (s *Server) RouteOptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateRouteRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid route request", err.Error(), r.URL.Path)
		return
	}
	started := time.Now()
	plan, _ := solver.OptimizeRoute(req.Stops, req.Transit)
	metrics.SolveDuration.WithLabelValues("route").Observe(time.Since(started).Seconds())
	metrics.SolveRuns.WithLabelValues("route", "ok").Inc()
	plan.TherapistID = req.TherapistID
	plan.Day = req.Day
	writeJSON(w, http.StatusOK, plan)
}

// SubscriptionsHandler handles POST and GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/subscriptions" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		req.TenantID = p.Tenant
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		out := map[string]any{"items": items}
		if next != "" {
			out["nextCursor"] = next
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SolverConfigHandler returns the effective solver weights for the tenant.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	writeJSON(w, 200, map[string]any{"weights": s.tenantWeights(r, p.Tenant, nil).Map()})
}

// AdminSolverConfigHandler gets/sets per-tenant weight overrides.
func (s *Server) AdminSolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver/config" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, _ := s.Store.GetSolverConfig(r.Context(), p.Tenant)
		if cfg == nil {
			cfg = map[string]float64{}
		}
		writeJSON(w, 200, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config map[string]float64 `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, 400, "Missing config", "", r.URL.Path)
			return
		}
		if err := s.Store.SaveSolverConfig(r.Context(), p.Tenant, body.Config); err != nil {
			writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SolveMetricsHandler reports solver run metrics: GET /v1/admin/solve-metrics?weekOf=...
func (s *Server) SolveMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	weekOf := r.URL.Query().Get("weekOf")
	if weekOf == "" {
		writeProblem(w, 400, "Missing weekOf", "weekOf query parameter is required", r.URL.Path)
		return
	}
	items, err := s.Store.ListRunMetrics(r.Context(), p.Tenant, weekOf)
	if err != nil {
		writeProblem(w, 500, "List run metrics failed", err.Error(), r.URL.Path)
		return
	}
	// in-process metrics cover runs not yet flushed to the store
	inProc := solver.RunsFor(p.Tenant, weekOf)
	writeJSON(w, 200, map[string]any{"items": items, "latest": inProc})
}

// WebhookDeliveriesHandler lists webhook deliveries: GET /v1/admin/webhook-deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	status := r.URL.Query().Get("status")
	items, _, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, "", 100)
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookDeliveryRetryHandler requeues a delivery: POST /v1/admin/webhook-deliveries/{id}/retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "retry" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, parts[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, 404, "Delivery not found", "", r.URL.Path)
			return
		}
		writeProblem(w, 500, "Retry failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// the store is constructed (and pinged, for Postgres) at startup; if the
	// server answers at all it is ready
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
