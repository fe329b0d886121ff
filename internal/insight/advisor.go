package insight

import (
	"context"
	"net/http"
	"strings"
	"time"

	"routeopt/internal/logging"
	"routeopt/internal/model"
	"routeopt/internal/transport"
)

// Advisor turns insights into free-text recommendations.
type Advisor interface {
	Recommend(ctx context.Context, summary model.Summary, in *model.Insights) ([]string, error)
}

type HTTPAdvisorConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// HTTPAdvisor posts the summary and insights to a text service.
type HTTPAdvisor struct {
	url    string
	client *transport.Client
}

func NewHTTPAdvisor(cfg HTTPAdvisorConfig) *HTTPAdvisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPAdvisor{
		url: strings.TrimRight(cfg.URL, "/"),
		client: transport.New(transport.Options{
			Name:        "advisor",
			Timeout:     cfg.Timeout,
			MaxAttempts: 2,
			Authorize:   transport.BearerToken(cfg.Token),
			HTTPClient:  cfg.HTTPClient,
			Logger:      cfg.Logger,
		}),
	}
}

type adviceRequest struct {
	Summary     model.Summary      `json:"summary"`
	RiskLevel   model.RiskLevel    `json:"riskLevel"`
	RiskFactors []string           `json:"riskFactors"`
	Suggestions []model.Suggestion `json:"suggestions"`
}

type adviceResponse struct {
	Recommendations []string `json:"recommendations"`
}

func (a *HTTPAdvisor) Recommend(ctx context.Context, summary model.Summary, in *model.Insights) ([]string, error) {
	body := adviceRequest{Summary: summary, RiskLevel: in.RiskLevel, RiskFactors: in.RiskFactors, Suggestions: in.Suggestions}
	var out adviceResponse
	if err := a.client.DoJSON(ctx, http.MethodPost, a.url+"/v1/recommendations", body, &out); err != nil {
		return nil, err
	}
	recs := make([]string, 0, len(out.Recommendations))
	for _, r := range out.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// Enrich fills in.Recommendations from adv. Any failure leaves an empty list.
func Enrich(ctx context.Context, adv Advisor, summary model.Summary, in *model.Insights, log *logging.Logger) {
	in.Recommendations = []string{}
	if adv == nil {
		return
	}
	recs, err := adv.Recommend(ctx, summary, in)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("Advisor unavailable, continuing without recommendations")
		}
		return
	}
	in.Recommendations = recs
}
