package collector

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"AlertSentinel/internal/model"
)

// CoinGecko prices crypto assets by CoinGecko id.
type CoinGecko struct {
	base
}

func NewCoinGecko(opts Options) *CoinGecko {
	return &CoinGecko{base: newBase("coingecko", opts)}
}

func (c *CoinGecko) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	quotes := make(model.Quotes, len(assets))
	var ids []string
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if a.ID != "" && !seen[a.ID] {
			seen[a.ID] = true
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return quotes, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("x-cg-demo-api-key", c.apiKey)
	}

	var resp map[string]map[string]float64
	if err := c.getJSON(ctx, c.baseURL+"/simple/price?"+q.Encode(), header, &resp); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if price, ok := resp[id]["usd"]; ok && price > 0 {
			quotes[id] = price
		}
	}
	return quotes, nil
}
