package insight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeopt/internal/model"
)

func locs(n int) []model.Location {
	out := make([]model.Location, n)
	for i := range out {
		out[i].ID = string(rune('a' + i))
	}
	return out
}

func route(id string, km float64, stops ...string) model.Route {
	return model.Route{VehicleID: id, DistanceKm: km, Stops: stops}
}

func TestAnalyzeCleanResultIsLowRisk(t *testing.T) {
	req := &model.OptimizationRequest{Locations: locs(4)}
	res := &model.OptimizationResult{
		Routes:  []model.Route{route("v1", 10, "a", "b"), route("v2", 12, "c", "d")},
		Summary: model.Summary{TotalCost: 100, TotalDistanceKm: 22, Efficiency: 80, VehiclesUsed: 2},
	}
	before := *res
	in := Analyze(req, res, DefaultRatios())

	assert.Equal(t, model.RiskLow, in.RiskLevel)
	assert.Empty(t, in.RiskFactors)
	assert.Empty(t, in.Suggestions)
	assert.NotNil(t, in.Recommendations)
	assert.Equal(t, model.CostBreakdown{Fuel: 35, Labor: 40, Vehicle: 15, Overhead: 10, Total: 100}, in.CostBreakdown)
	assert.Equal(t, before.Summary, res.Summary)
}

func TestAnalyzeUnassignedAndViolationsRaiseRisk(t *testing.T) {
	req := &model.OptimizationRequest{Locations: locs(5)}
	res := &model.OptimizationResult{
		Routes: []model.Route{
			{VehicleID: "v1", DistanceKm: 10, Stops: []string{"a", "b"}, Violations: []string{"time_window"}},
			route("v2", 12, "c"),
		},
		Unassigned: []string{"d", "e"},
		Summary:    model.Summary{TotalCost: 50, TotalDistanceKm: 22, Efficiency: 90, VehiclesUsed: 2},
	}
	in := Analyze(req, res, DefaultRatios())

	assert.Equal(t, model.RiskCritical, in.RiskLevel)
	require.Len(t, in.Suggestions, 2)
	assert.Equal(t, CategoryScheduling, in.Suggestions[0].Category)
	assert.Equal(t, 50.0, in.Suggestions[0].ImpactPct)
	assert.Equal(t, CategoryCoverage, in.Suggestions[1].Category)
	assert.Equal(t, 40.0, in.Suggestions[1].ImpactPct)
	assert.Len(t, in.RiskFactors, 2)
}

func TestAnalyzeFlagsOutlierRoutes(t *testing.T) {
	req := &model.OptimizationRequest{Locations: locs(4)}
	res := &model.OptimizationResult{
		Routes: []model.Route{
			route("v1", 10, "a"), route("v2", 11, "b"), route("v3", 9, "c"), route("v4", 40, "d"),
		},
		Summary: model.Summary{TotalCost: 70, TotalDistanceKm: 70, Efficiency: 90, VehiclesUsed: 4},
	}
	in := Analyze(req, res, DefaultRatios())

	assert.Equal(t, model.RiskMedium, in.RiskLevel)
	require.Len(t, in.Suggestions, 1)
	assert.Equal(t, CategoryBalance, in.Suggestions[0].Category)
	assert.Contains(t, in.RiskFactors[0], "v4")
}

func TestOutliersNeedEnoughRoutes(t *testing.T) {
	assert.Nil(t, outliers([]model.Route{route("v1", 1, "a"), route("v2", 100, "b")}))
}

func TestAnalyzeLowUtilization(t *testing.T) {
	req := &model.OptimizationRequest{Locations: locs(2)}
	res := &model.OptimizationResult{
		Routes:  []model.Route{route("v1", 5, "a"), route("v2", 5, "b")},
		Summary: model.Summary{TotalDistanceKm: 10, Efficiency: 20, VehiclesUsed: 2},
	}
	in := Analyze(req, res, DefaultRatios())
	require.Len(t, in.Suggestions, 1)
	assert.Equal(t, CategoryConsolidation, in.Suggestions[0].Category)
	assert.Equal(t, 20.0, in.Suggestions[0].ImpactPct)
}

func TestHTTPAdvisorEnrich(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recommendations", r.URL.Path)
		var body adviceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, model.RiskHigh, body.RiskLevel)
		_ = json.NewEncoder(w).Encode(adviceResponse{Recommendations: []string{" Start earlier ", ""}})
	}))
	defer srv.Close()

	in := &model.Insights{RiskLevel: model.RiskHigh}
	Enrich(context.Background(), NewHTTPAdvisor(HTTPAdvisorConfig{URL: srv.URL}), model.Summary{}, in, nil)
	assert.Equal(t, []string{"Start earlier"}, in.Recommendations)
}

func TestEnrichDegradesToEmptyOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	in := &model.Insights{Recommendations: []string{"stale"}}
	Enrich(context.Background(), NewHTTPAdvisor(HTTPAdvisorConfig{URL: srv.URL}), model.Summary{}, in, nil)
	assert.Equal(t, []string{}, in.Recommendations)

	Enrich(context.Background(), nil, model.Summary{}, in, nil)
	assert.Equal(t, []string{}, in.Recommendations)
}
