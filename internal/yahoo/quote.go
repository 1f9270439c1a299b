package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/PaesslerAG/jsonpath"
	"golang.org/x/net/publicsuffix"
	"resty.dev/v3"

	"pegcrawler/internal/fetcher"
	"pegcrawler/internal/snapshot"
)

const (
	// DefaultBaseURL is the public quote API host.
	DefaultBaseURL = "https://query2.finance.yahoo.com"
	// DefaultSessionURL hands out the session cookie the crumb is bound to.
	DefaultSessionURL = "https://fc.yahoo.com"
)

const crumbPath = "/v1/test/getcrumb"

// resultPath selects the per-ticker module object in a quoteSummary body.
const resultPath = "$.quoteSummary.result[0]"

// modules are requested in this order; when two modules carry the same
// field the first one wins.
var modules = []string{
	"price",
	"financialData",
	"summaryDetail",
	"defaultKeyStatistics",
	"assetProfile",
}

// Provider fetches quoteSummary snapshots. The quote API only answers
// requests that carry a session cookie and the crumb issued for it, so the
// first Snapshot call performs that handshake and later calls reuse it.
type Provider struct {
	client     *resty.Client
	sessionURL string

	mu    sync.Mutex
	crumb string
}

// NewProvider creates a Provider using client, whose base URL points at the
// quote API host. The client gets a cookie jar of its own. An empty
// sessionURL skips the cookie request and goes straight to the crumb.
func NewProvider(client *resty.Client, sessionURL string) *Provider {
	if client != nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client.SetCookieJar(jar)
	}
	return &Provider{client: client, sessionURL: sessionURL}
}

// Name implements fetcher.Provider.
func (p *Provider) Name() string {
	return "yahoo"
}

// Snapshot retrieves every requested module for ticker and flattens them
// into one field map. Unknown symbols come back as an empty snapshot, the
// same shape as a result-less body, so the fetcher's completeness check
// decides what happens next. A 401 means the crumb went stale; it is
// renewed once and the request repeated.
func (p *Provider) Snapshot(ctx context.Context, ticker string) (snapshot.Raw, error) {
	crumb, err := p.session(ctx, "")
	if err != nil {
		return nil, err
	}

	body, resp, err := p.quoteSummary(ctx, ticker, crumb)
	if err == nil && resp.StatusCode() == http.StatusUnauthorized {
		if crumb, err = p.session(ctx, crumb); err != nil {
			return nil, err
		}
		body, resp, err = p.quoteSummary(ctx, ticker, crumb)
	}
	if err != nil {
		return nil, fetcher.ClassifyTransportError(fmt.Errorf("quoteSummary %s: %w", ticker, err))
	}

	if resp.StatusCode() == http.StatusNotFound {
		return snapshot.Raw{}, nil
	}
	if !resp.IsSuccess() {
		fe := fetcher.ClassifyHTTPError(resp.StatusCode())
		fe.Ticker = ticker
		return nil, fe
	}

	return flatten(body), nil
}

func (p *Provider) quoteSummary(ctx context.Context, ticker, crumb string) (map[string]any, *resty.Response, error) {
	var body map[string]any

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("modules", strings.Join(modules, ",")).
		SetQueryParam("crumb", crumb).
		SetResult(&body).
		Get("/v10/finance/quoteSummary/" + url.PathEscape(ticker))

	return body, resp, err
}

// session returns the cached crumb, running the handshake when there is
// none yet or when the cached one is still the rejected stale value.
func (p *Provider) session(ctx context.Context, stale string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.crumb != "" && p.crumb != stale {
		return p.crumb, nil
	}
	p.crumb = ""

	if p.sessionURL != "" {
		// fc.yahoo.com answers 404 but still sets the cookie.
		if _, err := p.client.R().SetContext(ctx).Get(p.sessionURL); err != nil {
			return "", fetcher.ClassifyTransportError(fmt.Errorf("yahoo session: %w", err))
		}
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/plain").
		Get(crumbPath)
	if err != nil {
		return "", fetcher.ClassifyTransportError(fmt.Errorf("yahoo crumb: %w", err))
	}
	if !resp.IsSuccess() {
		fe := fetcher.ClassifyHTTPError(resp.StatusCode())
		fe.Message = fmt.Sprintf("crumb request rejected: HTTP %d", resp.StatusCode())
		return "", fe
	}

	crumb := strings.TrimSpace(resp.String())
	if crumb == "" || strings.ContainsAny(crumb, "<{ ") {
		return "", &fetcher.FetchError{
			Type:       fetcher.ErrorTypeUnknown,
			Retryable:  true,
			StatusCode: resp.StatusCode(),
			Message:    "crumb response was not a crumb",
		}
	}

	p.crumb = crumb
	return crumb, nil
}

// flatten merges the module objects of the first result. Yahoo wraps
// numbers as {"raw": 1.5, "fmt": "1.50"}; those collapse to the raw value
// and empty objects are dropped.
func flatten(body map[string]any) snapshot.Raw {
	raw := snapshot.Raw{}

	result, err := jsonpath.Get(resultPath, body)
	if err != nil {
		return raw
	}
	// jsonpath may hand back a one-element list for an index selector.
	if list, ok := result.([]any); ok {
		if len(list) == 0 {
			return raw
		}
		result = list[0]
	}
	byModule, ok := result.(map[string]any)
	if !ok {
		return raw
	}

	for _, name := range modules {
		mod, ok := byModule[name].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range mod {
			if _, dup := raw[k]; dup {
				continue
			}
			if val, keep := unwrap(v); keep {
				raw[k] = val
			}
		}
	}
	return raw
}

func unwrap(v any) (any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return v, true
	}
	if r, ok := obj["raw"]; ok {
		return r, true
	}
	if len(obj) == 0 {
		return nil, false
	}
	return obj, true
}
