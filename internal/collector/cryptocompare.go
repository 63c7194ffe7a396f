package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"AlertSentinel/internal/model"
)

// CryptoCompare prices crypto assets by ticker symbol.
type CryptoCompare struct {
	base
}

func NewCryptoCompare(opts Options) *CryptoCompare {
	return &CryptoCompare{base: newBase("cryptocompare", opts)}
}

func (c *CryptoCompare) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	quotes := make(model.Quotes, len(assets))
	bySymbol, symbols := tickers(assets, assetSymbol)
	if len(symbols) == 0 {
		return quotes, nil
	}

	q := url.Values{}
	q.Set("fsyms", strings.Join(symbols, ","))
	q.Set("tsyms", "USD")
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("authorization", "Apikey "+c.apiKey)
	}

	var resp map[string]json.RawMessage
	if err := c.getJSON(ctx, c.baseURL+"/data/pricemulti?"+q.Encode(), header, &resp); err != nil {
		return nil, err
	}

	// Errors arrive as 200 with {"Response":"Error","Message":...}.
	if raw, ok := resp["Response"]; ok {
		var status string
		_ = json.Unmarshal(raw, &status)
		if status == "Error" {
			var msg string
			_ = json.Unmarshal(resp["Message"], &msg)
			if strings.Contains(strings.ToLower(msg), "rate limit") {
				return nil, fmt.Errorf("%s: %w: %s", c.name, ErrRateLimited, msg)
			}
			return nil, fmt.Errorf("%s api error: %s", c.name, msg)
		}
	}

	for _, sym := range symbols {
		raw, ok := resp[sym]
		if !ok {
			continue
		}
		var prices map[string]float64
		if err := json.Unmarshal(raw, &prices); err != nil {
			return nil, fmt.Errorf("%s: %w: %s: %w", c.name, ErrMalformed, sym, err)
		}
		price, ok := prices["USD"]
		if !ok || price <= 0 {
			continue
		}
		for _, id := range bySymbol[sym] {
			quotes[id] = price
		}
	}
	return quotes, nil
}
