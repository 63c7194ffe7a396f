package collector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"AlertSentinel/internal/model"
)

// AlphaVantage prices stocks with one GLOBAL_QUOTE call per symbol.
type AlphaVantage struct {
	base
}

func NewAlphaVantage(opts Options) *AlphaVantage {
	return &AlphaVantage{base: newBase("alphavantage", opts)}
}

type globalQuote struct {
	Quote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (a *AlphaVantage) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	return a.fetchEach(ctx, assets, a.quote)
}

func (a *AlphaVantage) quote(ctx context.Context, symbol string) (float64, bool, error) {
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", a.apiKey)

	var resp globalQuote
	if err := a.getJSON(ctx, a.baseURL+"/query?"+q.Encode(), nil, &resp); err != nil {
		return 0, false, err
	}
	// Quota exhaustion is reported in a 200 body.
	if msg := firstNonEmpty(resp.Note, resp.Information); msg != "" {
		return 0, false, fmt.Errorf("%s: %w: %s", a.name, ErrRateLimited, msg)
	}
	if resp.ErrorMessage != "" || resp.Quote.Price == "" {
		return 0, false, nil
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(resp.Quote.Price), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w: price %q", a.name, ErrMalformed, resp.Quote.Price)
	}
	return price, price > 0, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
