package distance

import (
	"context"
	"errors"

	"routeopt/internal/apperr"
	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
)

// Fallback asks the primary provider first and degrades to great-circle distances on any failure.
// Invalid coordinates are rejected before either is consulted.
type Fallback struct {
	primary Provider
	local   Haversine
	log     *logging.Logger
}

// NewFallback wraps primary; a nil primary always uses the haversine matrix.
func NewFallback(primary Provider, local Haversine, log *logging.Logger) *Fallback {
	if log == nil {
		log = logging.Nop()
	}
	return &Fallback{primary: primary, local: local, log: log.WithComponent("distance")}
}

func (f *Fallback) Matrix(ctx context.Context, points []model.GeoPoint) (*Matrix, error) {
	if err := ValidatePoints(points); err != nil {
		return nil, err
	}
	degraded := false
	if f.primary != nil {
		m, err := f.primary.Matrix(ctx, points)
		if err == nil {
			metrics.MatrixBuilds.WithLabelValues(m.Source).Inc()
			return m, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		unavailable := apperr.ProviderUnavailable("distance matrix service", err)
		f.log.WithContext(ctx).WithError(unavailable).Warn("Falling back to haversine distances", "points", len(points))
		degraded = true
	}
	m, err := f.local.Matrix(ctx, points)
	if err != nil {
		return nil, err
	}
	m.Degraded = degraded
	metrics.MatrixBuilds.WithLabelValues(m.Source).Inc()
	return m, nil
}
