package engine

import (
	"math"

	"routeopt/internal/model"
)

// Score rates each candidate relative to the others, in [0, 1]. Distance, time and cost
// score min/value (lower is better) and efficiency scores value/max; the weighted sum is
// scaled by the fraction of stops the candidate assigned.
func Score(results []*model.OptimizationResult, w model.Objectives, locations int) []float64 {
	w = w.Normalized()
	scores := make([]float64, len(results))
	if len(results) == 0 {
		return scores
	}
	minDist, minTime, minCost := math.Inf(1), math.Inf(1), math.Inf(1)
	maxEff := 0.0
	for _, r := range results {
		s := r.Summary
		minDist = positiveMin(minDist, s.TotalDistanceKm)
		minTime = positiveMin(minTime, s.TotalDurationHours)
		minCost = positiveMin(minCost, s.TotalCost)
		maxEff = math.Max(maxEff, s.Efficiency)
	}
	for i, r := range results {
		s := r.Summary
		score := w.Distance*lowerBetter(minDist, s.TotalDistanceKm) +
			w.Time*lowerBetter(minTime, s.TotalDurationHours) +
			w.Cost*lowerBetter(minCost, s.TotalCost) +
			w.Efficiency*higherBetter(s.Efficiency, maxEff)
		assigned := 1.0
		if locations > 0 {
			assigned = float64(locations-len(r.Unassigned)) / float64(locations)
		}
		scores[i] = math.Round(score*assigned*1e6) / 1e6
	}
	return scores
}

// positiveMin ignores zero totals, which come from candidates that routed nothing.
func positiveMin(cur, v float64) float64 {
	if v > 0 && v < cur {
		return v
	}
	return cur
}

func lowerBetter(best, v float64) float64 {
	if v <= 0 || math.IsInf(best, 1) {
		return 1
	}
	return best / v
}

func higherBetter(v, best float64) float64 {
	if best <= 0 {
		return 1
	}
	return v / best
}

// pick returns the index of the best candidate: highest score, then lower total cost, then
// fewer unassigned stops, then the earliest in candidate order.
func pick(results []*model.OptimizationResult, scores []float64) int {
	best := -1
	for i, r := range results {
		if best < 0 {
			best = i
			continue
		}
		b := results[best]
		switch {
		case scores[i] > scores[best]:
			best = i
		case scores[i] < scores[best]:
		case r.Summary.TotalCost < b.Summary.TotalCost:
			best = i
		case r.Summary.TotalCost > b.Summary.TotalCost:
		case len(r.Unassigned) < len(b.Unassigned):
			best = i
		}
	}
	return best
}
