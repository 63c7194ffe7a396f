package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"AlertSentinel/internal/model"
)

// Yahoo prices stocks from the public chart API. It needs no key and is the
// last stock fallback.
type Yahoo struct {
	base
	SymbolMap map[string]string // maps internal ticker to Yahoo ticker
}

func NewYahoo(opts Options) *Yahoo {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://query1.finance.yahoo.com"
	}
	return &Yahoo{
		base: newBase("yahoo", opts),
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
	}
}

func (y *Yahoo) yahooSymbol(symbol string) string {
	if mapped, ok := y.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	return y.fetchEach(ctx, assets, y.quote)
}

func (y *Yahoo) quote(ctx context.Context, symbol string) (float64, bool, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d",
		y.baseURL, url.PathEscape(y.yahooSymbol(symbol)))
	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0")

	var chart yahooChart
	if err := y.getJSON(ctx, endpoint, header, &chart); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return 0, false, nil
	}

	result := chart.Chart.Result[0]
	if p := result.Meta.RegularMarketPrice; p > 0 {
		return p, true, nil
	}
	// Fall back to the last non-null close.
	if len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 {
				return *closes[i], true, nil
			}
		}
	}
	return 0, false, nil
}
