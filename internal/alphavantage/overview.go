package alphavantage

import (
	"context"
	"fmt"

	"resty.dev/v3"

	"pegcrawler/internal/fetcher"
	"pegcrawler/internal/snapshot"
)

// DefaultBaseURL is the Alpha Vantage query endpoint.
const DefaultBaseURL = "https://www.alphavantage.co/query"

// GlobalQuoteResponse represents the AlphaVantage API response for stock quotes
type GlobalQuoteResponse struct {
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Price            string `json:"05. price"`
		Volume           string `json:"06. volume"`
		LatestTradingDay string `json:"07. latest trading day"`
		PreviousClose    string `json:"08. previous close"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// overviewAliases maps OVERVIEW keys onto the canonical snapshot fields.
// The original keys are kept as well.
var overviewAliases = map[string]string{
	"Name":                       snapshot.FieldLongName,
	"Sector":                     snapshot.FieldSector,
	"Industry":                   snapshot.FieldIndustry,
	"PERatio":                    snapshot.FieldTrailingPE,
	"ForwardPE":                  snapshot.FieldForwardPE,
	"PEGRatio":                   snapshot.FieldPEG,
	"QuarterlyEarningsGrowthYOY": snapshot.FieldEarningsGrowth,
}

// Provider builds snapshots from the OVERVIEW and GLOBAL_QUOTE functions.
// One snapshot costs two API calls.
type Provider struct {
	apiKey string
	client *resty.Client
}

// NewProvider creates a new Alpha Vantage provider
func NewProvider(apiKey string, client *resty.Client) *Provider {
	return &Provider{
		apiKey: apiKey,
		client: client,
	}
}

// Name implements fetcher.Provider.
func (p *Provider) Name() string {
	return "alphavantage"
}

// Snapshot retrieves the company overview and latest quote for ticker.
// Unknown symbols yield an empty snapshot. A throttle notice in either
// body is a rate_limit error.
func (p *Provider) Snapshot(ctx context.Context, ticker string) (snapshot.Raw, error) {
	var overview map[string]any
	if err := p.query(ctx, "OVERVIEW", ticker, &overview); err != nil {
		return nil, err
	}
	if err := throttled(ticker, overview["Note"], overview["Information"]); err != nil {
		return nil, err
	}
	if len(overview) == 0 {
		return snapshot.Raw{}, nil
	}

	raw := make(snapshot.Raw, len(overview)+len(overviewAliases)+1)
	for k, v := range overview {
		raw[k] = v
	}
	for from, to := range overviewAliases {
		if v, ok := overview[from]; ok {
			raw[to] = v
		}
	}

	var quote GlobalQuoteResponse
	if err := p.query(ctx, "GLOBAL_QUOTE", ticker, &quote); err != nil {
		return nil, err
	}
	if err := throttled(ticker, quote.Note, quote.Information); err != nil {
		return nil, err
	}
	if quote.GlobalQuote.Price != "" {
		raw[snapshot.FieldCurrentPrice] = quote.GlobalQuote.Price
	}

	return raw, nil
}

func (p *Provider) query(ctx context.Context, function, ticker string, result any) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apikey":   p.apiKey,
			"function": function,
			"symbol":   ticker,
		}).
		SetResult(result).
		Get("")

	if err != nil {
		return fetcher.ClassifyTransportError(fmt.Errorf("%s %s: %w", function, ticker, err))
	}

	if !resp.IsSuccess() {
		fe := fetcher.ClassifyHTTPError(resp.StatusCode())
		fe.Ticker = ticker
		return fe
	}

	return nil
}

// throttled turns a Note or Information notice into a rate limit error.
// Alpha Vantage reports throttling with status 200.
func throttled(ticker string, notes ...any) error {
	for _, n := range notes {
		if s, ok := n.(string); ok && s != "" {
			fe := fetcher.NewRateLimitError(0)
			fe.Ticker = ticker
			fe.Message = s
			return fe
		}
	}
	return nil
}
