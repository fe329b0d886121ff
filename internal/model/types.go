package model

import (
	"math"
	"time"
)

// Core domain types shared by the engine, solvers, providers and the API.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point has finite, in-range coordinates.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// TimeWindow is expressed in seconds from the start of the planning day.
type TimeWindow struct {
	StartSec int `json:"startSec" validate:"gte=0"`
	EndSec   int `json:"endSec" validate:"gtefield=StartSec"`
}

type Location struct {
	ID         string      `json:"id" validate:"required"`
	Name       string      `json:"name,omitempty"`
	Address    string      `json:"address,omitempty"`
	Point      *GeoPoint   `json:"point,omitempty" validate:"required_without=Address"`
	Demand     float64     `json:"demand" validate:"gte=0"`
	Priority   int         `json:"priority,omitempty" validate:"gte=0"`
	TimeWindow *TimeWindow `json:"timeWindow,omitempty"`
	ServiceSec int         `json:"serviceSec,omitempty" validate:"gte=0"`
}

type Vehicle struct {
	ID            string      `json:"id" validate:"required"`
	Capacity      float64     `json:"capacity" validate:"gt=0"`
	MaxDistanceKm float64     `json:"maxDistanceKm,omitempty" validate:"gte=0"`
	MaxTimeHours  float64     `json:"maxTimeHours,omitempty" validate:"gte=0"`
	CostPerKm     float64     `json:"costPerKm,omitempty" validate:"gte=0"`
	CostPerHour   float64     `json:"costPerHour,omitempty" validate:"gte=0"`
	Start         GeoPoint    `json:"start"`
	End           *GeoPoint   `json:"end,omitempty"`
	Availability  *TimeWindow `json:"availability,omitempty"`
}

type Constraints struct {
	Capacity      bool    `json:"capacity"`
	TimeWindows   bool    `json:"timeWindows"`
	WorkingHours  bool    `json:"workingHours"`
	MaxDistanceKm float64 `json:"maxDistanceKm,omitempty" validate:"gte=0"`
	MaxTimeHours  float64 `json:"maxTimeHours,omitempty" validate:"gte=0"`
}

// Objectives weights are non-negative and need not sum to 1.
type Objectives struct {
	Distance   float64 `json:"distance" validate:"gte=0"`
	Time       float64 `json:"time" validate:"gte=0"`
	Cost       float64 `json:"cost" validate:"gte=0"`
	Efficiency float64 `json:"efficiency" validate:"gte=0"`
}

// DefaultObjectives is used when every weight of a request is zero.
var DefaultObjectives = Objectives{Distance: 0.4, Time: 0.3, Cost: 0.3}

// Normalized scales the weights to sum to 1, falling back to DefaultObjectives.
func (o Objectives) Normalized() Objectives {
	sum := o.Distance + o.Time + o.Cost + o.Efficiency
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return DefaultObjectives
	}
	return Objectives{
		Distance:   o.Distance / sum,
		Time:       o.Time / sum,
		Cost:       o.Cost / sum,
		Efficiency: o.Efficiency / sum,
	}
}

type OptimizationRequest struct {
	PlanDate    time.Time   `json:"planDate,omitempty"`
	Locations   []Location  `json:"locations" validate:"required,min=1,dive"`
	Vehicles    []Vehicle   `json:"vehicles" validate:"required,min=1,dive"`
	Constraints Constraints `json:"constraints"`
	Objectives  Objectives  `json:"objectives"`
}

type Route struct {
	VehicleID     string   `json:"vehicleId"`
	Stops         []string `json:"stops"`
	DistanceKm    float64  `json:"distanceKm"`
	DurationHours float64  `json:"durationHours"`
	Cost          float64  `json:"cost"`
	Load          float64  `json:"load"`
	Utilization   float64  `json:"utilization"`
	LateStops     int      `json:"lateStops,omitempty"`
	Violations    []string `json:"violations,omitempty"`
}

type Summary struct {
	TotalDistanceKm    float64 `json:"totalDistanceKm"`
	TotalDurationHours float64 `json:"totalDurationHours"`
	TotalCost          float64 `json:"totalCost"`
	Efficiency         float64 `json:"efficiency"` // percent of used capacity on active vehicles
	CarbonKg           float64 `json:"carbonKg"`
	FuelLiters         float64 `json:"fuelLiters"`
	VehiclesUsed       int     `json:"vehiclesUsed"`
}

// Candidate statuses.
const (
	CandidateOK      = "ok"
	CandidateError   = "error"
	CandidateTimeout = "timeout"
)

type CandidateReport struct {
	Algorithm     string  `json:"algorithm"`
	Status        string  `json:"status"`
	Score         float64 `json:"score,omitempty"`
	ComputeTimeMs int64   `json:"computeTimeMs"`
	Iterations    int     `json:"iterations,omitempty"`
	TotalCost     float64 `json:"totalCost,omitempty"`
	DistanceKm    float64 `json:"distanceKm,omitempty"`
	Unassigned    int     `json:"unassigned,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type Metadata struct {
	RunID         string            `json:"runId,omitempty"`
	Algorithm     string            `json:"algorithm"`
	ComputeTimeMs int64             `json:"computeTimeMs"`
	Iterations    int               `json:"iterations"`
	Score         float64           `json:"score,omitempty"`
	Fingerprint   string            `json:"fingerprint,omitempty"`
	MatrixSource  string            `json:"matrixSource,omitempty"`
	Candidates    []CandidateReport `json:"candidates,omitempty"`
}

type OptimizationResult struct {
	Routes     []Route   `json:"routes"`
	Summary    Summary   `json:"summary"`
	Unassigned []string  `json:"unassigned"`
	Insights   *Insights `json:"insights,omitempty"`
	Metadata   Metadata  `json:"metadata"`
}

// Clone returns a deep copy so callers can annotate a result without touching cached values.
func (r *OptimizationResult) Clone() *OptimizationResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Routes = make([]Route, len(r.Routes))
	for i, rt := range r.Routes {
		rt.Stops = append([]string(nil), rt.Stops...)
		rt.Violations = append([]string(nil), rt.Violations...)
		out.Routes[i] = rt
	}
	out.Unassigned = append([]string{}, r.Unassigned...)
	out.Metadata.Candidates = append([]CandidateReport(nil), r.Metadata.Candidates...)
	if r.Insights != nil {
		in := *r.Insights
		in.RiskFactors = append([]string(nil), in.RiskFactors...)
		in.Suggestions = append([]Suggestion(nil), in.Suggestions...)
		in.Recommendations = append([]string(nil), in.Recommendations...)
		out.Insights = &in
	}
	return &out
}

// Insights are derived from a finished result and never alter it.
type Insights struct {
	CostBreakdown   CostBreakdown `json:"costBreakdown"`
	RiskLevel       RiskLevel     `json:"riskLevel"`
	RiskFactors     []string      `json:"riskFactors,omitempty"`
	Suggestions     []Suggestion  `json:"suggestions,omitempty"`
	Recommendations []string      `json:"recommendations"`
}

type CostBreakdown struct {
	Fuel     float64 `json:"fuel"`
	Labor    float64 `json:"labor"`
	Vehicle  float64 `json:"vehicle"`
	Overhead float64 `json:"overhead"`
	Total    float64 `json:"total"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Suggestion struct {
	Category  string  `json:"category"`
	Priority  int     `json:"priority"` // 1 = most urgent
	ImpactPct float64 `json:"impactPct"`
	Message   string  `json:"message"`
}
