package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caseplan/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Schedules and coverage plans are stored as jsonb documents; the relational
// columns exist only for lookup and the current-version pointer.
func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			site_id TEXT NOT NULL DEFAULT '',
			week_of TEXT NOT NULL,
			version INT NOT NULL,
			status TEXT NOT NULL,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS schedules_week_idx ON schedules (tenant_id, site_id, week_of, version)`,
		`CREATE TABLE IF NOT EXISTS coverage_plans (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			url TEXT NOT NULL,
			events JSONB NOT NULL,
			secret TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			subscription_id UUID,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT,
			response_code INT,
			latency_ms INT,
			delivered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx ON webhook_deliveries (status, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS run_metrics (
			tenant_id TEXT NOT NULL,
			week_of TEXT NOT NULL,
			phase TEXT NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, week_of, phase)
		)`,
		`CREATE TABLE IF NOT EXISTS solver_configs (
			tenant_id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveSchedule(ctx context.Context, sch model.Schedule) (model.Schedule, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Schedule{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sch.ID = uuid.New().String()
	sch.Status = model.ScheduleCurrent
	sch.Version = 1
	var prevVersion int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schedules
		WHERE tenant_id=$1 AND site_id=$2 AND week_of=$3 AND status=$4
		ORDER BY version DESC LIMIT 1`,
		sch.TenantID, sch.SiteID, sch.WeekOf, model.ScheduleCurrent).Scan(&prevVersion)
	if err == nil {
		sch.Version = prevVersion + 1
		if _, err := tx.ExecContext(ctx, `UPDATE schedules SET status=$1, doc=jsonb_set(doc,'{status}',to_jsonb($1::text))
			WHERE tenant_id=$2 AND site_id=$3 AND week_of=$4 AND status=$5`,
			model.ScheduleSuperseded, sch.TenantID, sch.SiteID, sch.WeekOf, model.ScheduleCurrent); err != nil {
			return model.Schedule{}, err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO schedules (id, tenant_id, site_id, week_of, version, status, doc)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sch.ID, sch.TenantID, sch.SiteID, sch.WeekOf, sch.Version, sch.Status, toJSON(sch))
	if err != nil {
		return model.Schedule{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Schedule{}, err
	}
	return sch, nil
}

func (p *Postgres) GetSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM schedules WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}
	return decodeSchedule(doc)
}

func (p *Postgres) GetCurrentSchedule(ctx context.Context, tenantID, siteID, weekOf string) (model.Schedule, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM schedules
		WHERE tenant_id=$1 AND site_id=$2 AND week_of=$3 AND status=$4
		ORDER BY version DESC LIMIT 1`,
		tenantID, siteID, weekOf, model.ScheduleCurrent).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}
	return decodeSchedule(doc)
}

func (p *Postgres) ListSchedules(ctx context.Context, tenantID, cursor string, limit int) ([]model.Schedule, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, doc FROM schedules WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, doc FROM schedules WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Schedule{}
	var last string
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, "", err
		}
		s, err := decodeSchedule(doc)
		if err != nil {
			return nil, "", err
		}
		out = append(out, s)
		last = id
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) ScheduleHistory(ctx context.Context, tenantID, siteID, weekOf string) ([]model.Schedule, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM schedules
		WHERE tenant_id=$1 AND site_id=$2 AND week_of=$3 ORDER BY version`, tenantID, siteID, weekOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Schedule{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		s, err := decodeSchedule(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) SaveCoveragePlan(ctx context.Context, plan model.CoveragePlan) (model.CoveragePlan, error) {
	plan.ID = uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO coverage_plans (id, tenant_id, doc) VALUES ($1,$2,$3)`,
		plan.ID, plan.TenantID, toJSON(plan))
	if err != nil {
		return model.CoveragePlan{}, err
	}
	return plan, nil
}

func (p *Postgres) GetCoveragePlan(ctx context.Context, tenantID, id string) (model.CoveragePlan, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM coverage_plans WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CoveragePlan{}, ErrNotFound
	}
	if err != nil {
		return model.CoveragePlan{}, err
	}
	var plan model.CoveragePlan
	if err := json.Unmarshal(doc, &plan); err != nil {
		return model.CoveragePlan{}, err
	}
	return plan, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.TenantID, s.URL, toJSON(s.Events), nullIfEmpty(s.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions
		WHERE tenant_id=$1 AND events @> to_jsonb(ARRAY[$2::text])`, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		s := model.Subscription{TenantID: tenantID}
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	var last string
	for rows.Next() {
		s := model.Subscription{TenantID: tenantID}
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, "", err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
		id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, last_error, url FROM webhook_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		q += ` AND status=$2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC LIMIT 500`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var id, eventType, st string
		var attempts int
		var nextAt sql.NullTime
		var lastError sql.NullString
		var url string
		if err := rows.Scan(&id, &eventType, &st, &attempts, &nextAt, &lastError, &url); err != nil {
			return nil, "", err
		}
		item := map[string]any{"id": id, "eventType": eventType, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid {
			item["nextAttemptAt"] = nextAt.Time
		}
		if lastError.Valid && lastError.String != "" {
			item["lastError"] = lastError.String
		}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out, "", nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveRunMetrics(ctx context.Context, tenantID, weekOf, phase string, metrics map[string]any) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO run_metrics (tenant_id, week_of, phase, doc, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id, week_of, phase) DO UPDATE SET doc=EXCLUDED.doc, updated_at=now()`,
		tenantID, weekOf, phase, toJSON(metrics))
	return err
}

func (p *Postgres) ListRunMetrics(ctx context.Context, tenantID, weekOf string) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT phase, doc FROM run_metrics WHERE tenant_id=$1 AND week_of=$2 ORDER BY phase`, tenantID, weekOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var phase string
		var doc []byte
		if err := rows.Scan(&phase, &doc); err != nil {
			return nil, err
		}
		item := map[string]any{}
		_ = json.Unmarshal(doc, &item)
		item["phase"] = phase
		out = append(out, item)
	}
	return out, nil
}

func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (map[string]float64, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM solver_configs WHERE tenant_id=$1`, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := map[string]float64{}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]float64) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO solver_configs (tenant_id, doc, updated_at) VALUES ($1,$2,now())
		ON CONFLICT (tenant_id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=now()`, tenantID, toJSON(cfg))
	return err
}

func decodeSchedule(doc []byte) (model.Schedule, error) {
	var s model.Schedule
	if err := json.Unmarshal(doc, &s); err != nil {
		return model.Schedule{}, err
	}
	return s, nil
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
