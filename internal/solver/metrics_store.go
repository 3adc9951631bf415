package solver

import "sync"

type runKey struct {
	Tenant string
	WeekOf string
	Phase  string
}

var (
	runMu sync.Mutex
	runs  = map[runKey]RunMetrics{}
)

// RecordRun keeps the latest run metrics for a tenant/week/phase in process,
// for the admin metrics endpoint.
func RecordRun(tenant, weekOf, phase string, m RunMetrics) {
	runMu.Lock()
	runs[runKey{Tenant: tenant, WeekOf: weekOf, Phase: phase}] = m
	runMu.Unlock()
}

// RunsFor returns recorded run metrics for a tenant/week keyed by phase.
func RunsFor(tenant, weekOf string) map[string]RunMetrics {
	runMu.Lock()
	defer runMu.Unlock()
	out := map[string]RunMetrics{}
	for k, v := range runs {
		if k.Tenant == tenant && k.WeekOf == weekOf {
			out[k.Phase] = v
		}
	}
	return out
}
