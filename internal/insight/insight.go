// Package insight derives cost, risk and improvement hints from a finished result. It never
// changes the result it reads.
package insight

import (
	"fmt"
	"math"
	"sort"

	"routeopt/internal/model"
)

// Ratios split total route cost into categories. They should sum to 1.
type Ratios struct {
	Fuel     float64
	Labor    float64
	Vehicle  float64
	Overhead float64
}

func DefaultRatios() Ratios {
	return Ratios{Fuel: 0.35, Labor: 0.40, Vehicle: 0.15, Overhead: 0.10}
}

// Suggestion categories.
const (
	CategoryCoverage      = "coverage"
	CategoryConsolidation = "consolidation"
	CategoryBalance       = "balance"
	CategoryScheduling    = "scheduling"
	CategoryConstraints   = "constraints"
)

const lowEfficiencyPct = 60

// Analyze computes the insights for res. Recommendations start empty; an Advisor may fill them.
func Analyze(req *model.OptimizationRequest, res *model.OptimizationResult, r Ratios) *model.Insights {
	in := &model.Insights{
		CostBreakdown:   breakdown(res.Summary.TotalCost, r),
		Recommendations: []string{},
	}
	var points int
	nLoc := len(req.Locations)
	unassigned := len(res.Unassigned)

	if unassigned > 0 {
		frac := float64(unassigned) / float64(max(nLoc, 1))
		points += 2
		if frac > 0.2 {
			points += 2
		}
		in.RiskFactors = append(in.RiskFactors, fmt.Sprintf("%d of %d stops unassigned", unassigned, nLoc))
		in.Suggestions = append(in.Suggestions, model.Suggestion{
			Category:  CategoryCoverage,
			Priority:  1,
			ImpactPct: round1(100 * frac),
			Message:   fmt.Sprintf("Add vehicle capacity or relax constraints to serve %d unassigned stops", unassigned),
		})
	}

	violations := map[string]int{}
	for _, rt := range res.Routes {
		for _, v := range rt.Violations {
			violations[v]++
		}
	}
	kinds := make([]string, 0, len(violations))
	for k := range violations {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		points += 2
		in.RiskFactors = append(in.RiskFactors, fmt.Sprintf("%d routes violate %s", violations[k], k))
		cat := CategoryConstraints
		if k == "time_window" || k == "working_hours" {
			cat = CategoryScheduling
		}
		in.Suggestions = append(in.Suggestions, model.Suggestion{
			Category:  cat,
			Priority:  1,
			ImpactPct: round1(100 * float64(violations[k]) / float64(max(res.Summary.VehiclesUsed, 1))),
			Message:   fmt.Sprintf("Review %s limits on %d routes", k, violations[k]),
		})
	}

	if out := outliers(res.Routes); len(out) > 0 {
		points += len(out)
		excess := 0.0
		for _, o := range out {
			excess += o.excessKm
			in.RiskFactors = append(in.RiskFactors, fmt.Sprintf("route %s is unusually long (%.1f km)", o.vehicleID, o.km))
		}
		impact := 0.0
		if res.Summary.TotalDistanceKm > 0 {
			impact = 100 * excess / res.Summary.TotalDistanceKm
		}
		in.Suggestions = append(in.Suggestions, model.Suggestion{
			Category:  CategoryBalance,
			Priority:  2,
			ImpactPct: round1(impact),
			Message:   fmt.Sprintf("Rebalance %d outlier routes across the fleet", len(out)),
		})
	}

	if eff := res.Summary.Efficiency; res.Summary.VehiclesUsed > 1 && eff < lowEfficiencyPct {
		points++
		in.RiskFactors = append(in.RiskFactors, fmt.Sprintf("fleet utilization is %.1f%%", eff))
		in.Suggestions = append(in.Suggestions, model.Suggestion{
			Category:  CategoryConsolidation,
			Priority:  3,
			ImpactPct: round1((lowEfficiencyPct - eff) / 2),
			Message:   "Consolidate stops onto fewer vehicles",
		})
	}

	in.RiskLevel = level(points)
	sort.SliceStable(in.Suggestions, func(i, j int) bool {
		a, b := in.Suggestions[i], in.Suggestions[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ImpactPct > b.ImpactPct
	})
	return in
}

func breakdown(total float64, r Ratios) model.CostBreakdown {
	return model.CostBreakdown{
		Fuel:     round2(total * r.Fuel),
		Labor:    round2(total * r.Labor),
		Vehicle:  round2(total * r.Vehicle),
		Overhead: round2(total * r.Overhead),
		Total:    round2(total),
	}
}

func level(points int) model.RiskLevel {
	switch {
	case points >= 5:
		return model.RiskCritical
	case points >= 3:
		return model.RiskHigh
	case points >= 1:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

type outlier struct {
	vehicleID string
	km        float64
	excessKm  float64
}

// outliers flags used routes longer than mean + 2σ or twice the median distance.
func outliers(routes []model.Route) []outlier {
	var kms []float64
	for _, r := range routes {
		if len(r.Stops) > 0 {
			kms = append(kms, r.DistanceKm)
		}
	}
	if len(kms) < 3 {
		return nil
	}
	mean := 0.0
	for _, k := range kms {
		mean += k
	}
	mean /= float64(len(kms))
	variance := 0.0
	for _, k := range kms {
		variance += (k - mean) * (k - mean)
	}
	sd := math.Sqrt(variance / float64(len(kms)))
	sorted := append([]float64(nil), kms...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	limit := math.Min(mean+2*sd, 2*median)
	var out []outlier
	for _, r := range routes {
		if len(r.Stops) == 0 || r.DistanceKm <= limit {
			continue
		}
		out = append(out, outlier{vehicleID: r.VehicleID, km: r.DistanceKm, excessKm: r.DistanceKm - median})
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
