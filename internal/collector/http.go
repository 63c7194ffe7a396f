package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"AlertSentinel/internal/metrics"
	"AlertSentinel/internal/model"
	"AlertSentinel/internal/ratelimit"
)

// Options configures an HTTP-backed provider.
type Options struct {
	BaseURL string
	APIKey  string
	Proxy   string
	// Client overrides the proxy-aware default client.
	Client *http.Client
	// Limiter is consulted before every request; nil means unlimited.
	Limiter ratelimit.Limiter
	MaxWait time.Duration
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewHTTPClient returns a client that routes through proxyURL when set.
func NewHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}

// base holds what every HTTP provider shares.
type base struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter ratelimit.Limiter
	maxWait time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func newBase(name string, opts Options) base {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(opts.Proxy)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return base{
		name:    name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  client,
		limiter: opts.Limiter,
		maxWait: maxWait,
		metrics: opts.Metrics,
		log:     log.With(zap.String("provider", name)),
	}
}

func (b *base) Name() string { return b.name }

// getJSON waits for a rate limit permit, performs a GET and decodes a 200
// body into out.
func (b *base) getJSON(ctx context.Context, endpoint string, header http.Header, out any) error {
	if b.limiter != nil && !b.limiter.AcquireWithTimeout(ctx, b.maxWait) {
		b.metrics.Denied(b.name)
		b.metrics.Fetch(b.name, "rate_limited")
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		return fmt.Errorf("%s: %w: no permit within %s", b.name, ErrRateLimited, b.maxWait)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", b.name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		b.metrics.Fetch(b.name, "error")
		return fmt.Errorf("%s fetch: %w", b.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.metrics.Fetch(b.name, "error")
		return fmt.Errorf("%s read body: %w", b.name, err)
	}
	b.log.Debug("provider response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Provider: b.name, Code: resp.StatusCode, Body: truncate(string(body), 200)}
		if resp.StatusCode == http.StatusTooManyRequests {
			b.metrics.Fetch(b.name, "rate_limited")
			return fmt.Errorf("%w: %w", ErrRateLimited, se)
		}
		b.metrics.Fetch(b.name, "error")
		return se
	}

	if err := json.Unmarshal(body, out); err != nil {
		b.metrics.Fetch(b.name, "malformed")
		return fmt.Errorf("%s: %w: %w", b.name, ErrMalformed, err)
	}
	b.metrics.Fetch(b.name, "ok")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tickers maps upper-cased tickers to the asset IDs that requested them.
func tickers(assets []model.Asset, key func(model.Asset) string) (map[string][]string, []string) {
	byTicker := make(map[string][]string, len(assets))
	order := make([]string, 0, len(assets))
	for _, a := range assets {
		t := strings.ToUpper(strings.TrimSpace(key(a)))
		if t == "" {
			continue
		}
		if _, ok := byTicker[t]; !ok {
			order = append(order, t)
		}
		if !slices.Contains(byTicker[t], a.ID) {
			byTicker[t] = append(byTicker[t], a.ID)
		}
	}
	return byTicker, order
}

func assetID(a model.Asset) string     { return a.ID }
func assetSymbol(a model.Asset) string { return a.Symbol }
