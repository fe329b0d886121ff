package api

import (
    "net/http"
    "runtime"
    "time"

    "routeopt/internal/buildinfo"
)

// DebugHandler reports build, runtime and wiring details.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build":      buildinfo.Info(),
        "time":       time.Now().UTC().Format(time.RFC3339),
        "uptime":     time.Since(s.started).Round(time.Second).String(),
        "goroutines": runtime.NumGoroutine(),
        "solvers":    s.Engine.Solvers(),
        "config": map[string]any{
            "HTTP_ADDR":        s.Config.HTTPAddr,
            "OPT_STRATEGY":     s.Config.Strategy,
            "OPT_FALLBACKS":    s.Config.Fallbacks,
            "OPT_MAX_COMPUTE":  s.Config.MaxCompute.String(),
            "HAS_DATABASE_URL": s.Config.DatabaseURL != "",
            "HAS_REDIS_URL":    s.Config.RedisURL != "",
            "HAS_ORS_API_KEY":  s.Config.ORSAPIKey != "",
            "HAS_ADVISOR_URL":  s.Config.AdvisorURL != "",
        },
    }
    writeJSON(w, http.StatusOK, info)
}
