package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

// RemoteProvider talks to a BenTrade data-service over HTTP/JSON. The
// data-service fronts the actual upstream feeds (Finnhub, Yahoo, Tradier,
// FRED); this client only knows the service's own surface and maps every
// failure into the providers error taxonomy.
type RemoteProvider struct {
	tag        string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewRemoteProvider creates a provider client for one upstream service.
// The tag names the provider for rate limiting and source health.
func NewRemoteProvider(tag, baseURL string, log zerolog.Logger) *RemoteProvider {
	return &RemoteProvider{
		tag:     tag,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // Per-call deadlines come from the caller's context
		},
		log: log.With().Str("component", "remote_provider").Str("provider", tag).Logger(),
	}
}

// Tag identifies this provider for pacing and health tracking.
func (p *RemoteProvider) Tag() string { return p.tag }

// getJSON performs a GET and decodes the response into out.
func (p *RemoteProvider) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewError(KindFatal, p.tag, op, 0, err)
	}
	return p.do(req, op, out)
}

// postJSON performs a POST with a JSON body and decodes the response into out.
func (p *RemoteProvider) postJSON(ctx context.Context, op, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(KindFatal, p.tag, op, 0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return NewError(KindFatal, p.tag, op, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, op, out)
}

func (p *RemoteProvider) do(req *http.Request, op string, out interface{}) error {
	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			err = ctxErr
		}
		return ClassifyErr(p.tag, op, err)
	}
	defer resp.Body.Close()

	p.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Provider call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ClassifyHTTP(p.tag, op, resp.StatusCode,
			fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(KindFatal, p.tag, op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type candidatesResponse struct {
	Candidates []domain.Candidate `json:"candidates"`
}

// FetchStockScanner runs the equity scanner.
func (p *RemoteProvider) FetchStockScanner(ctx context.Context, symbols []string) ([]domain.Candidate, error) {
	query := url.Values{}
	if len(symbols) > 0 {
		query.Set("symbols", strings.Join(symbols, ","))
	}
	var resp candidatesResponse
	if err := p.getJSON(ctx, "stock_scanner", "/api/stock/scanner", query, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// ScanStrategy runs one options scanner route.
func (p *RemoteProvider) ScanStrategy(ctx context.Context, strategyID string, symbols []string) ([]domain.Candidate, error) {
	query := url.Values{}
	if len(symbols) > 0 {
		query.Set("symbols", strings.Join(symbols, ","))
	}
	var resp candidatesResponse
	path := fmt.Sprintf("/api/strategies/%s/scan", url.PathEscape(strategyID))
	if err := p.getJSON(ctx, "scan_"+strategyID, path, query, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

type generateResponse struct {
	Filename string `json:"filename"`
}

// GenerateStrategyReport runs a full strategy analysis on the data-service
// and returns the persisted report filename. Intermediate stages are
// reported through emit.
func (p *RemoteProvider) GenerateStrategyReport(ctx context.Context, strategyID string, params GenerateParams, emit func(stage, message string)) (string, error) {
	if emit != nil {
		emit("request", fmt.Sprintf("Submitting %s analysis", strategyID))
	}

	var resp generateResponse
	path := fmt.Sprintf("/api/strategies/%s/generate", url.PathEscape(strategyID))
	if err := p.postJSON(ctx, "generate_"+strategyID, path, params, &resp); err != nil {
		return "", err
	}
	if resp.Filename == "" {
		return "", NewError(KindFatal, p.tag, "generate_"+strategyID, 0,
			fmt.Errorf("service returned no report filename"))
	}
	if emit != nil {
		emit("persisted", fmt.Sprintf("Report %s written", resp.Filename))
	}
	return resp.Filename, nil
}

type reportListResponse struct {
	Reports []string `json:"reports"`
}

// ListReports returns report filenames for a strategy, newest first.
func (p *RemoteProvider) ListReports(ctx context.Context, strategyID string) ([]string, error) {
	var resp reportListResponse
	path := fmt.Sprintf("/api/strategies/%s/reports", url.PathEscape(strategyID))
	if err := p.getJSON(ctx, "list_reports", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// FetchReport loads one report by name.
func (p *RemoteProvider) FetchReport(ctx context.Context, strategyID, name string) (*domain.Report, error) {
	var report domain.Report
	path := fmt.Sprintf("/api/strategies/%s/reports/%s", url.PathEscape(strategyID), url.PathEscape(name))
	if err := p.getJSON(ctx, "fetch_report", path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

type closesResponse struct {
	Closes []float64 `json:"closes"`
}

// GetCloses fetches daily closing prices for indicator enrichment.
func (p *RemoteProvider) GetCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	query := url.Values{}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}
	var resp closesResponse
	path := fmt.Sprintf("/api/history/%s/closes", url.PathEscape(symbol))
	if err := p.getJSON(ctx, "closes", path, query, &resp); err != nil {
		return nil, err
	}
	return resp.Closes, nil
}

// GetRegime fetches the current market regime.
func (p *RemoteProvider) GetRegime(ctx context.Context) (*domain.Regime, error) {
	var regime domain.Regime
	if err := p.getJSON(ctx, "regime", "/api/regime", nil, &regime); err != nil {
		return nil, err
	}
	return &regime, nil
}

type playbookResponse struct {
	Playbook domain.Playbook `json:"playbook"`
}

// GetPlaybook fetches the enriched strategy playbook.
func (p *RemoteProvider) GetPlaybook(ctx context.Context) (*domain.Playbook, error) {
	var resp playbookResponse
	if err := p.getJSON(ctx, "playbook", "/api/playbook", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Playbook, nil
}

type signalsResponse struct {
	Signals []domain.Signal `json:"signals"`
}

// GetSignals fetches current market signals.
func (p *RemoteProvider) GetSignals(ctx context.Context) ([]domain.Signal, error) {
	var resp signalsResponse
	if err := p.getJSON(ctx, "signals", "/api/signals", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

// GetQuote fetches a compact quote summary for one symbol.
func (p *RemoteProvider) GetQuote(ctx context.Context, symbol string) (*domain.QuoteSummary, error) {
	var quote domain.QuoteSummary
	path := fmt.Sprintf("/api/quotes/%s", url.PathEscape(symbol))
	if err := p.getJSON(ctx, "quote", path, nil, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetMacro fetches the macro indicator summary.
func (p *RemoteProvider) GetMacro(ctx context.Context) (*domain.MacroSummary, error) {
	var macro domain.MacroSummary
	if err := p.getJSON(ctx, "macro", "/api/macro", nil, &macro); err != nil {
		return nil, err
	}
	return &macro, nil
}

type sectorsResponse struct {
	Sectors map[string]float64 `json:"sectors"`
}

// GetSectors fetches the sector performance map.
func (p *RemoteProvider) GetSectors(ctx context.Context) (map[string]float64, error) {
	var resp sectorsResponse
	if err := p.getJSON(ctx, "sectors", "/api/sectors", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sectors, nil
}

// GetSourceHealth fetches the data-service's own view of upstream health.
func (p *RemoteProvider) GetSourceHealth(ctx context.Context) (domain.SourceHealth, error) {
	var health domain.SourceHealth
	if err := p.getJSON(ctx, "source_health", "/api/health/sources", nil, &health); err != nil {
		return nil, err
	}
	return health, nil
}
