package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"AlertSentinel/internal/model"
)

// Polygon prices US stocks from the snapshot endpoint.
type Polygon struct {
	base
}

func NewPolygon(opts Options) *Polygon {
	return &Polygon{base: newBase("polygon", opts)}
}

type polygonSnapshot struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Tickers []struct {
		Ticker    string `json:"ticker"`
		LastTrade struct {
			P float64 `json:"p"`
		} `json:"lastTrade"`
		Day struct {
			C float64 `json:"c"`
		} `json:"day"`
		PrevDay struct {
			C float64 `json:"c"`
		} `json:"prevDay"`
	} `json:"tickers"`
}

func (p *Polygon) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	quotes := make(model.Quotes, len(assets))
	byTicker, symbols := tickers(assets, assetID)
	if len(symbols) == 0 {
		return quotes, nil
	}

	q := url.Values{}
	q.Set("tickers", strings.Join(symbols, ","))
	q.Set("apiKey", p.apiKey)

	var snap polygonSnapshot
	endpoint := p.baseURL + "/v2/snapshot/locale/us/markets/stocks/tickers?" + q.Encode()
	if err := p.getJSON(ctx, endpoint, nil, &snap); err != nil {
		return nil, err
	}
	if snap.Status != "" && snap.Status != "OK" {
		msg := snap.Error
		if msg == "" {
			msg = snap.Message
		}
		return nil, fmt.Errorf("%s api error: %s: %s", p.name, snap.Status, msg)
	}

	for _, t := range snap.Tickers {
		price := t.LastTrade.P
		if price <= 0 {
			price = t.Day.C
		}
		if price <= 0 {
			price = t.PrevDay.C
		}
		if price <= 0 {
			continue
		}
		for _, id := range byTicker[strings.ToUpper(t.Ticker)] {
			quotes[id] = price
		}
	}
	return quotes, nil
}
