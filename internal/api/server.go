package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"caseplan/internal/auth"
	"caseplan/internal/solver"
	"caseplan/internal/store"
	"caseplan/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Weights solver.Weights
	Limiter *rate.Limiter
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		s = sp
	}
	// Broker selection
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	weights := solver.DefaultWeights()
	if path := os.Getenv("WEIGHTS_FILE"); path != "" {
		overrides, err := LoadWeightsFile(path)
		if err != nil {
			return nil, err
		}
		weights = weights.Merge(overrides)
	}
	return &Server{
		Store:   s,
		Pub:     webhooks.NewPublisher(s),
		Auth:    auth.NewVerifierFromEnv(),
		Broker:  broker,
		Weights: weights,
		Limiter: solveLimiterFromEnv(),
	}, nil
}

// solveLimiterFromEnv caps solver-backed endpoints; SOLVE_RATE_RPS=0 disables
// the cap.
func solveLimiterFromEnv() *rate.Limiter {
	rps := 10.0
	if v := os.Getenv("SOLVE_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			rps = f
		}
	}
	if rps == 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (s *Server) allowSolve(w http.ResponseWriter, r *http.Request) bool {
	if s.Limiter == nil || s.Limiter.Allow() {
		return true
	}
	writeProblem(w, http.StatusTooManyRequests, "Rate limited", "solver capacity exhausted, retry shortly", r.URL.Path)
	return false
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}
