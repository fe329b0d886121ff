package api

import (
	"context"
	"encoding/json"
	"net/http"

	"routeopt/internal/apperr"
	"routeopt/internal/logging"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Status    int            `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	Instance  string         `json:"instance,omitempty"`
	Kind      apperr.Kind    `json:"kind,omitempty"`
	Causes    []apperr.Cause `json:"causes,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemBody(w, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

var problemTitles = map[apperr.Kind]string{
	apperr.KindInvalidInput:        "Invalid optimization request",
	apperr.KindInvalidLocation:     "Invalid location",
	apperr.KindProviderUnavailable: "Provider unavailable",
	apperr.KindAllCandidatesFailed: "No candidate completed",
	apperr.KindComputeTimeout:      "Compute budget exceeded",
	apperr.KindInternal:            "Internal error",
}

// problemFor maps an engine error onto a problem body.
func problemFor(r *http.Request, err error) Problem {
	appErr := apperr.From(err)
	title := problemTitles[appErr.Kind]
	if title == "" {
		title = http.StatusText(appErr.HTTPStatus())
	}
	detail := appErr.Message
	if appErr.Kind != apperr.KindInternal && appErr.Err != nil {
		detail += ": " + appErr.Err.Error()
	}
	return Problem{
		Type:      "urn:routeopt:problem:" + string(appErr.Kind),
		Title:     title,
		Status:    appErr.HTTPStatus(),
		Detail:    detail,
		Instance:  r.URL.Path,
		Kind:      appErr.Kind,
		Causes:    appErr.Causes,
		RequestID: requestID(r.Context()),
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(r, err)
	log := s.log.WithContext(r.Context()).WithError(err)
	if p.Kind == apperr.KindInternal {
		log.Error("Request failed", "path", r.URL.Path)
	} else {
		log.Debug("Request rejected", "path", r.URL.Path, "status", p.Status)
	}
	writeProblemBody(w, p)
}

func requestID(ctx context.Context) string {
	if v, ok := ctx.Value(logging.RequestIDKey).(string); ok {
		return v
	}
	return ""
}
