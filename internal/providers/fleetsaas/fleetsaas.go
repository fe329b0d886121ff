// Package fleetsaas adapts a fleet-management SaaS routing API (visits and fleet in, per-vehicle
// timelines out) to the optimizer contract.
package fleetsaas

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"routeopt/internal/apperr"
	"routeopt/internal/logging"
	"routeopt/internal/model"
	"routeopt/internal/opt"
	"routeopt/internal/providers"
	"routeopt/internal/transport"
)

const Name = "fleetsaas"

type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *logging.Logger
}

type Client struct {
	baseURL string
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

func (c *Client) Configured() bool { return c.baseURL != "" && c.token != "" }

type location struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type visit struct {
	Location location `json:"location"`
	Load     float64  `json:"load,omitempty"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
	Duration float64  `json:"duration,omitempty"` // minutes
	Priority int      `json:"priority,omitempty"`
}

type vehicle struct {
	StartLocation location  `json:"start_location"`
	EndLocation   *location `json:"end_location,omitempty"`
	Capacity      float64   `json:"capacity,omitempty"`
	ShiftStart    string    `json:"shift_start,omitempty"`
	ShiftEnd      string    `json:"shift_end,omitempty"`
	MaxDistance   float64   `json:"max_distance,omitempty"` // km
}

type options struct {
	Balance      bool `json:"balance"`
	Capacity     bool `json:"capacity"`
	TimeWindows  bool `json:"time_windows"`
	WorkingHours bool `json:"working_hours"`
}

type vrpRequest struct {
	Visits  map[string]visit   `json:"visits"`
	Fleet   map[string]vehicle `json:"fleet"`
	Options options            `json:"options"`
}

type stop struct {
	LocationID   string `json:"location_id"`
	LocationName string `json:"location_name,omitempty"`
	ArrivalTime  string `json:"arrival_time,omitempty"`
	FinishTime   string `json:"finish_time,omitempty"`
}

type vehicleStats struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

type vrpResponse struct {
	Status   string                  `json:"status"`
	Solution map[string][]stop       `json:"solution"`
	Unserved map[string]string       `json:"unserved"`
	Stats    map[string]vehicleStats `json:"vehicle_stats"`
}

// Solve submits the problem and converts the returned timelines. The first and last
// timeline entries of each vehicle are its depots and are skipped.
func (c *Client) Solve(ctx context.Context, p *opt.Problem) (*model.OptimizationResult, error) {
	if !c.Configured() {
		return nil, apperr.ProviderUnavailable(Name, fmt.Errorf("not configured"))
	}
	started := time.Now()
	body := buildRequest(p.Request)
	var resp vrpResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/v1/vrp", body, &resp); err != nil {
		return nil, apperr.ProviderUnavailable(Name, err)
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, apperr.ProviderUnavailable(Name, fmt.Errorf("solve status %q", resp.Status))
	}

	timelines := make([]providers.Timeline, 0, len(resp.Solution))
	for vid, stops := range resp.Solution {
		tl := providers.Timeline{VehicleID: vid}
		for _, s := range stops {
			if _, ok := body.Visits[s.LocationID]; !ok {
				continue // depot entries
			}
			tl.StopIDs = append(tl.StopIDs, s.LocationID)
		}
		if st, ok := resp.Stats[vid]; ok {
			tl.DistanceKm = st.DistanceKm
			tl.DurationHours = st.DurationMin / 60
		}
		timelines = append(timelines, tl)
	}
	res, err := providers.ToResult(p, Name, timelines, time.Since(started))
	if err != nil {
		return nil, apperr.ProviderUnavailable(Name, err)
	}
	if len(resp.Unserved) > 0 {
		c.log.Info("Provider left stops unserved", "count", len(resp.Unserved))
	}
	return res, nil
}

func buildRequest(req *model.OptimizationRequest) vrpRequest {
	out := vrpRequest{
		Visits: make(map[string]visit, len(req.Locations)),
		Fleet:  make(map[string]vehicle, len(req.Vehicles)),
		Options: options{
			Balance:      true,
			Capacity:     req.Constraints.Capacity,
			TimeWindows:  req.Constraints.TimeWindows,
			WorkingHours: req.Constraints.WorkingHours,
		},
	}
	for _, loc := range req.Locations {
		v := visit{
			Location: location{Name: loc.Name, Lat: loc.Point.Lat, Lng: loc.Point.Lng},
			Load:     loc.Demand,
			Duration: math.Round(float64(loc.ServiceSec)/60*100) / 100,
			Priority: loc.Priority,
		}
		if tw := loc.TimeWindow; tw != nil && req.Constraints.TimeWindows {
			v.Start = providers.ClockString(tw.StartSec)
			v.End = providers.ClockString(tw.EndSec)
		}
		out.Visits[loc.ID] = v
	}
	for _, veh := range req.Vehicles {
		v := vehicle{
			StartLocation: location{Name: veh.ID + "-start", Lat: veh.Start.Lat, Lng: veh.Start.Lng},
			MaxDistance:   veh.MaxDistanceKm,
		}
		if req.Constraints.Capacity {
			v.Capacity = veh.Capacity
		}
		if veh.End != nil {
			v.EndLocation = &location{Name: veh.ID + "-end", Lat: veh.End.Lat, Lng: veh.End.Lng}
		}
		if a := veh.Availability; a != nil && req.Constraints.WorkingHours {
			v.ShiftStart = providers.ClockString(a.StartSec)
			v.ShiftEnd = providers.ClockString(a.EndSec)
		}
		out.Fleet[veh.ID] = v
	}
	return out
}
