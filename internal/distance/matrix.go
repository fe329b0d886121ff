package distance

import (
	"context"

	"routeopt/internal/apperr"
	"routeopt/internal/model"
)

// Matrix holds pairwise travel metrics. Distances are meters, durations seconds.
// Row i, column j is travel from point i to point j. The diagonal is zero.
type Matrix struct {
	Distances [][]float64
	Durations [][]float64
	Source    string
	// Symmetric is only guaranteed for great-circle matrices; routed matrices may differ per direction.
	Symmetric bool
	// Degraded marks a matrix built by a fallback after the preferred provider failed.
	Degraded bool
}

// Size is the number of points the matrix covers.
func (m *Matrix) Size() int { return len(m.Distances) }

// Km returns the distance from i to j in kilometers.
func (m *Matrix) Km(i, j int) float64 { return m.Distances[i][j] / 1000 }

// Hours returns the travel time from i to j in hours.
func (m *Matrix) Hours(i, j int) float64 { return m.Durations[i][j] / 3600 }

// Provider turns a set of points into a pairwise distance and duration matrix.
type Provider interface {
	Matrix(ctx context.Context, points []model.GeoPoint) (*Matrix, error)
}

// Geocoder resolves a free-form address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.GeoPoint, error)
}

// ValidatePoints fails with an INVALID_LOCATION error on the first out-of-range point.
func ValidatePoints(points []model.GeoPoint) error {
	for i, p := range points {
		if !p.Valid() {
			return apperr.InvalidLocation(i, p.Lat, p.Lng)
		}
	}
	return nil
}

func newSquare(n int) [][]float64 {
	flat := make([]float64, n*n)
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = flat[i*n : (i+1)*n]
	}
	return rows
}
