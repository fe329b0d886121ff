package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"routeopt/internal/apperr"
	"routeopt/internal/config"
	"routeopt/internal/engine"
	"routeopt/internal/model"
)

const maxRequestBytes = 8 << 20

// runParams are the per-call knobs accepted next to the request body.
type runParams struct {
	Strategy string `json:"strategy,omitempty"`
	NoCache  bool   `json:"noCache,omitempty"`
	Async    bool   `json:"-"`
}

func (p runParams) validate() error {
	switch p.Strategy {
	case "", config.StrategySingleLocal, config.StrategySingleProvider, config.StrategyHybridAll:
		return nil
	}
	return apperr.InvalidInput("unknown strategy %q (allowed: %s, %s, %s)", p.Strategy,
		config.StrategySingleLocal, config.StrategySingleProvider, config.StrategyHybridAll)
}

func (p runParams) options() []engine.Option {
	var opts []engine.Option
	if p.Strategy != "" {
		opts = append(opts, engine.WithStrategy(p.Strategy))
	}
	if p.NoCache {
		opts = append(opts, engine.WithoutCache())
	}
	return opts
}

// parseRunParams reads ?strategy=, ?nocache= and ?async= from the query string.
func parseRunParams(r *http.Request) (runParams, error) {
	q := r.URL.Query()
	p := runParams{Strategy: q.Get("strategy")}
	for name, dst := range map[string]*bool{"nocache": &p.NoCache, "async": &p.Async} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, apperr.InvalidInput("query parameter %s must be a boolean, got %q", name, raw)
		}
		*dst = v
	}
	return p, p.validate()
}

// decodeRequest reads an optimization request body. Semantic validation is left to the engine.
func decodeRequest(r *http.Request, w http.ResponseWriter) (*model.OptimizationRequest, error) {
	var req model.OptimizationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			return nil, apperr.InvalidInput("request body is empty")
		}
		return nil, apperr.InvalidInput("invalid JSON: %v", err)
	}
	if dec.More() {
		return nil, apperr.InvalidInput("request body must hold a single JSON object")
	}
	return &req, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}
