package distance

import (
	"context"
	"math"

	"routeopt/internal/model"
)

const earthRadiusMeters = 6371000.0

// SourceHaversine tags matrices computed locally from great-circle distance.
const SourceHaversine = "haversine"

// Haversine computes great-circle distances and derives durations from an assumed average speed.
type Haversine struct {
	SpeedKph float64
}

func (h Haversine) Matrix(ctx context.Context, points []model.GeoPoint) (*Matrix, error) {
	if err := ValidatePoints(points); err != nil {
		return nil, err
	}
	speed := h.SpeedKph
	if speed <= 0 {
		speed = 40
	}
	mps := speed * 1000 / 3600
	n := len(points)
	m := &Matrix{Distances: newSquare(n), Durations: newSquare(n), Source: SourceHaversine, Symmetric: true}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := Meters(points[i], points[j])
			m.Distances[i][j], m.Distances[j][i] = d, d
			t := d / mps
			m.Durations[i][j], m.Durations[j][i] = t, t
		}
	}
	return m, nil
}

// Meters is the great-circle distance between two points.
func Meters(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := lat2 - lat1
	dlon := (b.Lng - a.Lng) * math.Pi / 180
	s := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return earthRadiusMeters * c
}
