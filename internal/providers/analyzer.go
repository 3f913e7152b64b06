package providers

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

// RemoteAnalyzer talks to the model-analysis inference service.
type RemoteAnalyzer struct {
	client *RemoteProvider
}

// NewRemoteAnalyzer creates a model analyzer client. The service is paced
// under its own provider tag ("model").
func NewRemoteAnalyzer(baseURL string, log zerolog.Logger) *RemoteAnalyzer {
	return &RemoteAnalyzer{
		client: NewRemoteProvider("model", baseURL, log),
	}
}

type analyzeRequest struct {
	Trade  domain.Candidate `json:"trade"`
	Source string           `json:"source"`
}

type analyzeResponse struct {
	OK             bool `json:"ok"`
	EvaluatedTrade struct {
		ModelEvaluation domain.ModelEvaluation `json:"model_evaluation"`
	} `json:"evaluated_trade"`
}

// AnalyzeTrade submits one trade for model evaluation. A response that the
// service itself marks not-ok comes back as an ERROR recommendation rather
// than a transport failure.
func (a *RemoteAnalyzer) AnalyzeTrade(ctx context.Context, trade domain.Candidate, source string) (*domain.ModelEvaluation, error) {
	var resp analyzeResponse
	err := a.client.postJSON(ctx, "analyze_trade", "/api/model/analyze", analyzeRequest{
		Trade:  trade,
		Source: source,
	}, &resp)
	if err != nil {
		return nil, err
	}

	eval := resp.EvaluatedTrade.ModelEvaluation
	if !resp.OK {
		eval.Recommendation = "ERROR"
		eval.Status = "error"
		if eval.Summary == "" {
			eval.Summary = "model service reported failure"
		}
	}
	if eval.Status == "" {
		eval.Status = "ok"
	}
	eval.Recommendation = strings.ToUpper(eval.Recommendation)
	return &eval, nil
}
