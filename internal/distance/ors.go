package distance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"routeopt/internal/logging"
	"routeopt/internal/model"
	"routeopt/internal/transport"
)

// SourceORS tags matrices returned by OpenRouteService.
const SourceORS = "ors"

// ORSConfig configures the OpenRouteService client.
type ORSConfig struct {
	APIKey            string
	BaseURL           string
	Profile           string
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *logging.Logger
}

// ORS implements Provider and Geocoder using OpenRouteService.
// It is safe for concurrent use.
type ORS struct {
	client  *transport.Client
	baseURL string
	profile string
}

func NewORS(cfg ORSConfig) (*ORS, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openrouteservice.org"
	}
	if cfg.Profile == "" {
		cfg.Profile = "driving-car"
	}
	return &ORS{
		client: transport.New(transport.Options{
			Name:              SourceORS,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Authorize:         transport.APIKey(cfg.APIKey),
			HTTPClient:        cfg.HTTPClient,
			Logger:            cfg.Logger,
		}),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		profile: cfg.Profile,
	}, nil
}

type matrixRequest struct {
	Locations [][]float64 `json:"locations"`
	Metrics   []string    `json:"metrics"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// Matrix fetches the full N×N matrix in one request.
func (o *ORS) Matrix(ctx context.Context, points []model.GeoPoint) (*Matrix, error) {
	if err := ValidatePoints(points); err != nil {
		return nil, err
	}
	n := len(points)
	if n == 0 {
		return &Matrix{Source: SourceORS}, nil
	}
	locations := make([][]float64, n)
	for i, p := range points {
		// ORS expects [lon, lat]
		locations[i] = []float64{p.Lng, p.Lat}
	}
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, o.profile)
	var mr matrixResponse
	if err := o.client.DoJSON(ctx, http.MethodPost, endpoint, matrixRequest{
		Locations: locations,
		Metrics:   []string{"distance", "duration"},
	}, &mr); err != nil {
		return nil, fmt.Errorf("ors matrix: %w", err)
	}
	if len(mr.Distances) != n || len(mr.Durations) != n {
		return nil, fmt.Errorf("ors matrix: expected %d rows; got distances=%d durations=%d", n, len(mr.Distances), len(mr.Durations))
	}
	m := &Matrix{Distances: newSquare(n), Durations: newSquare(n), Source: SourceORS}
	for i := 0; i < n; i++ {
		if len(mr.Distances[i]) != n || len(mr.Durations[i]) != n {
			return nil, fmt.Errorf("ors matrix: row %d has %d/%d entries, want %d", i, len(mr.Distances[i]), len(mr.Durations[i]), n)
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d, t := mr.Distances[i][j], mr.Durations[i][j]
			if d == nil || t == nil {
				return nil, fmt.Errorf("ors matrix: unroutable pair %d -> %d", i, j)
			}
			m.Distances[i][j] = *d
			m.Durations[i][j] = *t
		}
	}
	return m, nil
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode resolves an address with /geocode/search, taking the top hit.
func (o *ORS) Geocode(ctx context.Context, address string) (model.GeoPoint, error) {
	norm := strings.Join(strings.Fields(address), " ")
	if norm == "" {
		return model.GeoPoint{}, errors.New("ors geocode: empty address")
	}
	q := url.Values{}
	q.Set("text", norm)
	q.Set("size", "1")
	var decoded geocodeResponse
	if err := o.client.DoJSON(ctx, http.MethodGet, o.baseURL+"/geocode/search?"+q.Encode(), nil, &decoded); err != nil {
		return model.GeoPoint{}, fmt.Errorf("ors geocode %q: %w", norm, err)
	}
	if len(decoded.Features) == 0 {
		return model.GeoPoint{}, fmt.Errorf("ors geocode: no results for %q", norm)
	}
	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return model.GeoPoint{}, fmt.Errorf("ors geocode: invalid coordinate format for %q", norm)
	}
	return model.GeoPoint{Lat: coords[1], Lng: coords[0]}, nil
}
