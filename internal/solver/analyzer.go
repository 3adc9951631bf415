package solver

import (
	"math"
	"sort"

	"caseplan/internal/model"
)

// AnalyzerConfig models indirect time as a fixed per-session documentation
// overhead.
type AnalyzerConfig struct {
	IndirectPerSessionMin int
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{IndirectPerSessionMin: 10}
}

// Analyze derives caseload and utilization metrics from a finalized
// schedule. Pure computation: no mutation, no failure modes beyond the
// caller handing in a schedule at all.
func Analyze(sch model.Schedule, therapists []model.Therapist, cfg AnalyzerConfig) model.ProductivityReport {
	if cfg.IndirectPerSessionMin <= 0 {
		cfg.IndirectPerSessionMin = DefaultAnalyzerConfig().IndirectPerSessionMin
	}

	type agg struct {
		direct   int
		sessions int
		byDay    map[int][]model.Session
	}
	perT := map[string]*agg{}
	for _, t := range therapists {
		perT[t.ID] = &agg{byDay: map[int][]model.Session{}}
	}
	for _, s := range sch.Sessions {
		if s.Status == model.SessionCancelled {
			continue
		}
		a := perT[s.TherapistID]
		if a == nil {
			a = &agg{byDay: map[int][]model.Session{}}
			perT[s.TherapistID] = a
		}
		a.direct += s.DurationMin
		a.sessions++
		a.byDay[s.Day] = append(a.byDay[s.Day], s)
	}

	report := model.ProductivityReport{
		ScheduleID: sch.ID,
		WeekOf:     sch.WeekOf,
		Version:    sch.Version,
	}
	var units []float64
	ids := make([]string, 0, len(perT))
	targets := map[string]float64{}
	working := map[string]int{}
	for _, t := range therapists {
		targets[t.ID] = t.ProductivityTarget
		working[t.ID] = workingMinutes(t)
	}
	for id := range perT {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := perT[id]
		indirect := a.sessions * cfg.IndirectPerSessionMin
		w := working[id]
		ratio := 0.0
		if w > 0 {
			ratio = float64(a.direct) / float64(w)
		}
		tp := model.TherapistProductivity{
			TherapistID:      id,
			DirectMin:        a.direct,
			IndirectMin:      indirect,
			WorkingMin:       w,
			Ratio:            ratio,
			Target:           targets[id],
			BelowTarget:      targets[id] > 0 && ratio < targets[id],
			FragmentationMin: meanGap(a.byDay),
			WeightedUnits:    float64(a.direct + indirect),
		}
		report.Therapists = append(report.Therapists, tp)
		report.TotalDirectMin += a.direct
		report.TotalIndirectMin += indirect
		units = append(units, tp.WeightedUnits)
	}
	report.BalanceStdDev = stddev(units)
	return report
}

// meanGap is the average idle stretch between consecutive same-day sessions,
// a fragmentation signal: big gaps mean a chopped-up day.
func meanGap(byDay map[int][]model.Session) float64 {
	totalGap, gaps := 0, 0
	for _, list := range byDay {
		sort.Slice(list, func(i, j int) bool { return list[i].StartMin < list[j].StartMin })
		for i := 1; i < len(list); i++ {
			g := list[i].StartMin - list[i-1].EndMin()
			if g > 0 {
				totalGap += g
				gaps++
			}
		}
	}
	if gaps == 0 {
		return 0
	}
	return float64(totalGap) / float64(gaps)
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	varSum := 0.0
	for _, x := range xs {
		d := x - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(len(xs)))
}
