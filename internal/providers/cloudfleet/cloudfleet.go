// Package cloudfleet adapts a cloud route-optimization service (shipments and vehicles in,
// routes with visits and per-route metrics out) to the optimizer contract.
package cloudfleet

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"routeopt/internal/apperr"
	"routeopt/internal/logging"
	"routeopt/internal/model"
	"routeopt/internal/opt"
	"routeopt/internal/providers"
	"routeopt/internal/transport"
)

const Name = "cloudfleet"

type Config struct {
	BaseURL           string
	Project           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *logging.Logger
}

type Client struct {
	baseURL string
	project string
	token   string
	http    *transport.Client
	log     *logging.Logger
}

var _ providers.Adapter = (*Client)(nil)

func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		project: cfg.Project,
		token:   cfg.Token,
		http: transport.New(transport.Options{
			Name:              Name,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Authorize:         transport.BearerToken(cfg.Token),
			HTTPClient:        cfg.HTTPClient,
			Logger:            log,
		}),
		log: log.WithComponent("provider." + Name),
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) Configured() bool { return c.baseURL != "" && c.project != "" && c.token != "" }

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type timeWindow struct {
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

type visitRequest struct {
	ArrivalLocation latLng       `json:"arrivalLocation"`
	Duration        string       `json:"duration,omitempty"`
	TimeWindows     []timeWindow `json:"timeWindows,omitempty"`
}

type load struct {
	Amount  string `json:"amount,omitempty"`
	MaxLoad string `json:"maxLoad,omitempty"`
}

type shipment struct {
	Label       string          `json:"label"`
	Deliveries  []visitRequest  `json:"deliveries"`
	LoadDemands map[string]load `json:"loadDemands,omitempty"`
	PenaltyCost float64         `json:"penaltyCost,omitempty"`
}

type distanceLimit struct {
	MaxMeters string `json:"maxMeters"`
}

type vehicle struct {
	Label              string          `json:"label"`
	StartLocation      latLng          `json:"startLocation"`
	EndLocation        *latLng         `json:"endLocation,omitempty"`
	LoadLimits         map[string]load `json:"loadLimits,omitempty"`
	CostPerKilometer   float64         `json:"costPerKilometer,omitempty"`
	CostPerHour        float64         `json:"costPerHour,omitempty"`
	RouteDistanceLimit *distanceLimit  `json:"routeDistanceLimit,omitempty"`
	StartTimeWindows   []timeWindow    `json:"startTimeWindows,omitempty"`
	EndTimeWindows     []timeWindow    `json:"endTimeWindows,omitempty"`
}

type shipmentModel struct {
	Shipments       []shipment `json:"shipments"`
	Vehicles        []vehicle  `json:"vehicles"`
	GlobalStartTime string     `json:"globalStartTime"`
	GlobalEndTime   string     `json:"globalEndTime"`
}

type optimizeRequest struct {
	Model shipmentModel `json:"model"`
}

type visit struct {
	ShipmentIndex int    `json:"shipmentIndex"`
	ShipmentLabel string `json:"shipmentLabel"`
	StartTime     string `json:"startTime,omitempty"`
}

type routeMetrics struct {
	TravelDistanceMeters float64 `json:"travelDistanceMeters"`
	TotalDuration        string  `json:"totalDuration"`
}

type route struct {
	VehicleIndex int          `json:"vehicleIndex"`
	VehicleLabel string       `json:"vehicleLabel"`
	Visits       []visit      `json:"visits"`
	Metrics      routeMetrics `json:"metrics"`
}

type skipped struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

type optimizeResponse struct {
	Routes           []route   `json:"routes"`
	SkippedShipments []skipped `json:"skippedShipments"`
}

const loadKey = "units"

// Solve submits the problem as a shipment model anchored on the plan date.
func (c *Client) Solve(ctx context.Context, p *opt.Problem) (*model.OptimizationResult, error) {
	if !c.Configured() {
		return nil, apperr.ProviderUnavailable(Name, fmt.Errorf("not configured"))
	}
	started := time.Now()
	body := buildRequest(p.Request, p.Params.UnassignedPenalty)
	endpoint := fmt.Sprintf("%s/v1/projects/%s:optimizeTours", c.baseURL, url.PathEscape(c.project))
	var resp optimizeResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, apperr.ProviderUnavailable(Name, err)
	}

	timelines := make([]providers.Timeline, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		vid := r.VehicleLabel
		if vid == "" {
			if r.VehicleIndex < 0 || r.VehicleIndex >= len(p.Request.Vehicles) {
				return nil, apperr.ProviderUnavailable(Name, fmt.Errorf("vehicle index %d out of range", r.VehicleIndex))
			}
			vid = p.Request.Vehicles[r.VehicleIndex].ID
		}
		tl := providers.Timeline{VehicleID: vid, DistanceKm: r.Metrics.TravelDistanceMeters / 1000}
		if d, err := parseDuration(r.Metrics.TotalDuration); err == nil {
			tl.DurationHours = d.Hours()
		}
		for _, v := range r.Visits {
			id := v.ShipmentLabel
			if id == "" {
				if v.ShipmentIndex < 0 || v.ShipmentIndex >= len(p.Request.Locations) {
					return nil, apperr.ProviderUnavailable(Name, fmt.Errorf("shipment index %d out of range", v.ShipmentIndex))
				}
				id = p.Request.Locations[v.ShipmentIndex].ID
			}
			tl.StopIDs = append(tl.StopIDs, id)
		}
		timelines = append(timelines, tl)
	}
	res, err := providers.ToResult(p, Name, timelines, time.Since(started))
	if err != nil {
		return nil, apperr.ProviderUnavailable(Name, err)
	}
	if len(resp.SkippedShipments) > 0 {
		c.log.Info("Provider skipped shipments", "count", len(resp.SkippedShipments))
	}
	return res, nil
}

func buildRequest(req *model.OptimizationRequest, penalty float64) optimizeRequest {
	day := req.PlanDate.UTC().Truncate(24 * time.Hour)
	if req.PlanDate.IsZero() {
		day = time.Now().UTC().Truncate(24 * time.Hour)
	}
	at := func(sec int) string { return day.Add(time.Duration(sec) * time.Second).Format(time.RFC3339) }
	m := shipmentModel{GlobalStartTime: at(0), GlobalEndTime: at(24 * 3600)}
	for _, loc := range req.Locations {
		v := visitRequest{ArrivalLocation: latLng{loc.Point.Lat, loc.Point.Lng}}
		if loc.ServiceSec > 0 {
			v.Duration = strconv.Itoa(loc.ServiceSec) + "s"
		}
		if tw := loc.TimeWindow; tw != nil && req.Constraints.TimeWindows {
			v.TimeWindows = []timeWindow{{StartTime: at(tw.StartSec), EndTime: at(tw.EndSec)}}
		}
		s := shipment{
			Label:       loc.ID,
			Deliveries:  []visitRequest{v},
			PenaltyCost: penalty * float64(loc.Priority+1),
		}
		if req.Constraints.Capacity && loc.Demand > 0 {
			s.LoadDemands = map[string]load{loadKey: {Amount: ceilAmount(loc.Demand)}}
		}
		m.Shipments = append(m.Shipments, s)
	}
	for _, veh := range req.Vehicles {
		v := vehicle{
			Label:            veh.ID,
			StartLocation:    latLng{veh.Start.Lat, veh.Start.Lng},
			CostPerKilometer: veh.CostPerKm,
			CostPerHour:      veh.CostPerHour,
		}
		if veh.End != nil {
			v.EndLocation = &latLng{veh.End.Lat, veh.End.Lng}
		}
		if req.Constraints.Capacity {
			v.LoadLimits = map[string]load{loadKey: {MaxLoad: strconv.FormatInt(int64(veh.Capacity), 10)}}
		}
		if km := veh.MaxDistanceKm; km > 0 {
			v.RouteDistanceLimit = &distanceLimit{MaxMeters: strconv.FormatInt(int64(km*1000), 10)}
		}
		if a := veh.Availability; a != nil && req.Constraints.WorkingHours {
			v.StartTimeWindows = []timeWindow{{StartTime: at(a.StartSec)}}
			v.EndTimeWindows = []timeWindow{{EndTime: at(a.EndSec)}}
		}
		m.Vehicles = append(m.Vehicles, v)
	}
	return optimizeRequest{Model: m}
}

// ceilAmount encodes a demand as the integer string the service expects. Demands round up
// and capacities round down so a provider plan never exceeds the real capacity.
func ceilAmount(v float64) string {
	n := int64(v)
	if float64(n) < v {
		n++
	}
	return strconv.FormatInt(n, 10)
}

// parseDuration reads durations in the "123.5s" form.
func parseDuration(s string) (time.Duration, error) {
	if !strings.HasSuffix(s, "s") {
		return 0, fmt.Errorf("duration %q lacks unit", s)
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
