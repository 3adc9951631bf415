package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"caseplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	schedules map[string]model.Schedule // id -> schedule
	schedTen  map[string][]string       // tenant -> schedule ids, insertion order
	current   map[string]string         // tenant|site|week -> current schedule id
	plans     map[string]model.CoveragePlan
	plansTen  map[string][]string
	subs      map[string][]model.Subscription // tenant -> subscriptions
	// Webhooks queue state
	deliveries         map[string]*memDelivery // id -> delivery state
	deliveriesByTenant map[string][]string     // tenant -> delivery ids
	runMx              map[string]map[string][]map[string]any // tenant -> weekOf -> items
	solverCfg          map[string]map[string]float64          // tenant -> weight overrides
}

func NewMemory() *Memory {
	return &Memory{
		schedules:          map[string]model.Schedule{},
		schedTen:           map[string][]string{},
		current:            map[string]string{},
		plans:              map[string]model.CoveragePlan{},
		plansTen:           map[string][]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		runMx:              map[string]map[string][]map[string]any{},
		solverCfg:          map[string]map[string]float64{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func currentKey(tenantID, siteID, weekOf string) string {
	return tenantID + "|" + siteID + "|" + weekOf
}

func (m *Memory) SaveSchedule(ctx context.Context, sch model.Schedule) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := currentKey(sch.TenantID, sch.SiteID, sch.WeekOf)
	sch.ID = uuid.New().String()
	sch.Status = model.ScheduleCurrent
	sch.Version = 1
	if prevID, ok := m.current[key]; ok {
		prev := m.schedules[prevID]
		prev.Status = model.ScheduleSuperseded
		m.schedules[prevID] = prev
		sch.Version = prev.Version + 1
	}
	m.schedules[sch.ID] = sch
	m.schedTen[sch.TenantID] = append(m.schedTen[sch.TenantID], sch.ID)
	m.current[key] = sch.ID
	return sch, nil
}

func (m *Memory) GetSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.TenantID != tenantID {
		return model.Schedule{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetCurrentSchedule(ctx context.Context, tenantID, siteID, weekOf string) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.current[currentKey(tenantID, siteID, weekOf)]
	if !ok {
		return model.Schedule{}, ErrNotFound
	}
	return m.schedules[id], nil
}

func (m *Memory) ListSchedules(ctx context.Context, tenantID, cursor string, limit int) ([]model.Schedule, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.schedTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Schedule{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.schedules[ids[i]])
		next = ids[i]
	}
	if start+len(out) >= len(ids) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) ScheduleHistory(ctx context.Context, tenantID, siteID, weekOf string) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Schedule{}
	for _, id := range m.schedTen[tenantID] {
		s := m.schedules[id]
		if s.SiteID == siteID && s.WeekOf == weekOf {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SaveCoveragePlan(ctx context.Context, plan model.CoveragePlan) (model.CoveragePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.ID = uuid.New().String()
	m.plans[plan.ID] = plan
	m.plansTen[plan.TenantID] = append(m.plansTen[plan.TenantID], plan.ID)
	return plan, nil
}

func (m *Memory) GetCoveragePlan(ctx context.Context, tenantID, id string) (model.CoveragePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.TenantID != tenantID {
		return model.CoveragePlan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.iterDeliveryIDs() {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) SaveRunMetrics(ctx context.Context, tenantID, weekOf, phase string, metrics map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runMx[tenantID] == nil {
		m.runMx[tenantID] = map[string][]map[string]any{}
	}
	items := m.runMx[tenantID][weekOf]
	found := false
	for i := range items {
		if items[i]["phase"] == phase {
			items[i] = metrics
			items[i]["phase"] = phase
			found = true
			break
		}
	}
	if !found {
		metrics["phase"] = phase
		items = append(items, metrics)
	}
	m.runMx[tenantID][weekOf] = items
	return nil
}

func (m *Memory) ListRunMetrics(ctx context.Context, tenantID, weekOf string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.runMx[tenantID][weekOf]...), nil
}

func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.solverCfg[tenantID]; ok {
		return cfg, nil
	}
	return nil, nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solverCfg[tenantID] = cfg
	return nil
}

// helper: iterate delivery IDs by tenant order
func (m *Memory) iterDeliveryIDs() []string {
	ids := []string{}
	for _, lst := range m.deliveriesByTenant {
		ids = append(ids, lst...)
	}
	return ids
}
