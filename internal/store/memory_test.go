package store

import (
	"context"
	"testing"
	"time"

	"caseplan/internal/model"
)

func TestMemorySaveScheduleVersions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s1, err := m.SaveSchedule(ctx, model.Schedule{TenantID: "t1", SiteID: "main", WeekOf: "2026-03-02"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if s1.Version != 1 || s1.Status != model.ScheduleCurrent {
		t.Fatalf("first save got version=%d status=%s", s1.Version, s1.Status)
	}

	s2, err := m.SaveSchedule(ctx, model.Schedule{TenantID: "t1", SiteID: "main", WeekOf: "2026-03-02"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if s2.Version != 2 {
		t.Fatalf("second save got version=%d", s2.Version)
	}

	old, err := m.GetSchedule(ctx, "t1", s1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if old.Status != model.ScheduleSuperseded {
		t.Fatalf("prior version status=%s", old.Status)
	}

	cur, err := m.GetCurrentSchedule(ctx, "t1", "main", "2026-03-02")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur.ID != s2.ID {
		t.Fatalf("current=%s want %s", cur.ID, s2.ID)
	}

	hist, err := m.ScheduleHistory(ctx, "t1", "main", "2026-03-02")
	if err != nil || len(hist) != 2 {
		t.Fatalf("history len=%d err=%v", len(hist), err)
	}

	if _, err := m.GetSchedule(ctx, "t2", s2.ID); err != ErrNotFound {
		t.Fatalf("cross-tenant get err=%v", err)
	}
}

func TestMemorySubscriptionsForEvent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://a.example/hook", Events: []string{"schedule.planned"}})
	m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://b.example/hook", Events: []string{"coverage.escalated"}})

	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "schedule.planned")
	if err != nil || len(subs) != 1 || subs[0].ID != a.ID {
		t.Fatalf("subs=%v err=%v", subs, err)
	}

	if err := m.DeleteSubscription(ctx, "t1", a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	subs, _ = m.GetSubscriptionsForEvent(ctx, "t1", "schedule.planned")
	if len(subs) != 0 {
		t.Fatalf("expected no subs after delete, got %d", len(subs))
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.EnqueueWebhook(ctx, "t1", "sub1", "schedule.planned", "https://a.example/hook", "sec", []byte(`{"id":"x"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due=%v", due)
	}

	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 12); err != nil {
		t.Fatalf("mark: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("retry should not be due yet, got %d", len(due))
	}

	if err := m.RetryWebhookDelivery(ctx, "t1", id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("expected 1 due after retry, got %d", len(due))
	}

	if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 8); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	items, _, _ := m.ListWebhookDeliveries(ctx, "t1", "delivered", "", 10)
	if len(items) != 1 {
		t.Fatalf("delivered list len=%d", len(items))
	}
}
