package store

import (
	"context"
	"errors"
	"time"

	"caseplan/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Schedules. SaveSchedule assigns ID and version and marks the prior
	// current version for the same tenant/site/week superseded; versions are
	// append-only.
	SaveSchedule(ctx context.Context, sch model.Schedule) (model.Schedule, error)
	GetSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error)
	GetCurrentSchedule(ctx context.Context, tenantID, siteID, weekOf string) (model.Schedule, error)
	ListSchedules(ctx context.Context, tenantID, cursor string, limit int) ([]model.Schedule, string, error)
	ScheduleHistory(ctx context.Context, tenantID, siteID, weekOf string) ([]model.Schedule, error)

	// Coverage plans
	SaveCoveragePlan(ctx context.Context, plan model.CoveragePlan) (model.CoveragePlan, error)
	GetCoveragePlan(ctx context.Context, tenantID, id string) (model.CoveragePlan, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	// Solver run metrics per tenant/week
	SaveRunMetrics(ctx context.Context, tenantID, weekOf, phase string, metrics map[string]any) error
	ListRunMetrics(ctx context.Context, tenantID, weekOf string) ([]map[string]any, error)

	// Solver weight overrides per tenant
	GetSolverConfig(ctx context.Context, tenantID string) (map[string]float64, error)
	SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]float64) error
}

var ErrNotFound = errors.New("not found")
