package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertSentinel/internal/model"
	"AlertSentinel/internal/ratelimit"
)

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func crypto(id, sym string) model.Asset {
	return model.Asset{ID: id, Symbol: sym, Class: model.AssetClassCrypto}
}

func stock(ticker string) model.Asset {
	return model.Asset{ID: ticker, Symbol: ticker, Class: model.AssetClassStock}
}

func TestCoinGecko_BatchesIDs(t *testing.T) {
	var calls int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000.5},"ethereum":{"usd":3100}}`))
	})

	p := NewCoinGecko(Options{BaseURL: srv.URL + "/api/v3", APIKey: "demo-key"})
	quotes, err := p.GetPrices(context.Background(), []model.Asset{
		crypto("bitcoin", "BTC"), crypto("ethereum", "ETH"), crypto("bitcoin", "BTC"),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, model.Quotes{"bitcoin": 64000.5, "ethereum": 3100}, quotes)
}

func TestCoinGecko_UnknownAssetAbsent(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000}}`))
	})
	p := NewCoinGecko(Options{BaseURL: srv.URL})
	quotes, err := p.GetPrices(context.Background(), []model.Asset{crypto("bitcoin", "BTC"), crypto("nope", "NOPE")})
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
	_, ok := quotes["nope"]
	assert.False(t, ok)
}

func TestCoinGecko_EmptyBatchMakesNoCall(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	quotes, err := NewCoinGecko(Options{BaseURL: srv.URL}).GetPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestHTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		check     func(t *testing.T, err error)
		transient bool
	}{
		{"server error", http.StatusBadGateway, "oops", func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusBadGateway, se.Code)
			assert.Equal(t, "coingecko", se.Provider)
		}, true},
		{"too many requests", http.StatusTooManyRequests, "", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRateLimited)
		}, true},
		{"unauthorized", http.StatusUnauthorized, "", func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
		}, false},
		{"malformed", http.StatusOK, "{not json", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrMalformed)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := NewCoinGecko(Options{BaseURL: srv.URL}).GetPrices(context.Background(), []model.Asset{crypto("bitcoin", "BTC")})
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestLimiterDenialIsRateLimited(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	lim := ratelimit.NewSlidingWindow(1, ratelimit.WithPollInterval(5*time.Millisecond))
	p := NewCoinGecko(Options{BaseURL: srv.URL, Limiter: lim, MaxWait: 20 * time.Millisecond})

	_, err := p.GetPrices(context.Background(), []model.Asset{crypto("bitcoin", "BTC")})
	require.NoError(t, err)

	_, err = p.GetPrices(context.Background(), []model.Asset{crypto("bitcoin", "BTC")})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCryptoCompare_MapsSymbolsBackToIDs(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/pricemulti", r.URL.Path)
		assert.Equal(t, "BTC,ETH", r.URL.Query().Get("fsyms"))
		assert.Equal(t, "USD", r.URL.Query().Get("tsyms"))
		assert.Equal(t, "Apikey k", r.Header.Get("authorization"))
		_, _ = w.Write([]byte(`{"BTC":{"USD":64000},"ETH":{"USD":3100}}`))
	})
	p := NewCryptoCompare(Options{BaseURL: srv.URL, APIKey: "k"})
	quotes, err := p.GetPrices(context.Background(), []model.Asset{crypto("bitcoin", "btc"), crypto("ethereum", "ETH")})
	require.NoError(t, err)
	assert.Equal(t, model.Quotes{"bitcoin": 64000, "ethereum": 3100}, quotes)
}

func TestCryptoCompare_ErrorBody(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"Error","Message":"You are over your rate limit please upgrade"}`))
	})
	_, err := NewCryptoCompare(Options{BaseURL: srv.URL}).GetPrices(context.Background(), []model.Asset{crypto("bitcoin", "BTC")})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestPolygon_PriceFallbackOrder(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/snapshot/locale/us/markets/stocks/tickers", r.URL.Path)
		assert.Equal(t, "AAPL,MSFT,TSLA", r.URL.Query().Get("tickers"))
		assert.Equal(t, "pk", r.URL.Query().Get("apiKey"))
		_, _ = w.Write([]byte(`{"status":"OK","tickers":[
			{"ticker":"AAPL","lastTrade":{"p":150.01},"day":{"c":149},"prevDay":{"c":148}},
			{"ticker":"MSFT","day":{"c":410.5},"prevDay":{"c":400}},
			{"ticker":"TSLA","prevDay":{"c":250}}
		]}`))
	})
	p := NewPolygon(Options{BaseURL: srv.URL, APIKey: "pk"})
	quotes, err := p.GetPrices(context.Background(), []model.Asset{stock("AAPL"), stock("MSFT"), stock("TSLA")})
	require.NoError(t, err)
	assert.Equal(t, model.Quotes{"AAPL": 150.01, "MSFT": 410.5, "TSLA": 250}, quotes)
}

func TestPolygon_ErrorStatus(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ERROR","error":"Unknown API Key"}`))
	})
	_, err := NewPolygon(Options{BaseURL: srv.URL}).GetPrices(context.Background(), []model.Asset{stock("AAPL")})
	assert.ErrorContains(t, err, "Unknown API Key")
}

func TestAlphaVantage_PerSymbolAndQuotaStop(t *testing.T) {
	var calls int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = w.Write([]byte(`{"Global Quote":{"01. symbol":"AAPL","05. price":"150.0100"}}`))
		case "MSFT":
			_, _ = w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`))
		default:
			t.Errorf("call %d for %s after quota exhaustion", n, r.URL.Query().Get("symbol"))
		}
	})
	p := NewAlphaVantage(Options{BaseURL: srv.URL, APIKey: "av"})
	quotes, err := p.GetPrices(context.Background(), []model.Asset{stock("AAPL"), stock("MSFT"), stock("TSLA")})
	require.NoError(t, err)
	assert.Equal(t, model.Quotes{"AAPL": 150.01}, quotes)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAlphaVantage_AllRateLimited(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Information":"daily limit reached"}`))
	})
	_, err := NewAlphaVantage(Options{BaseURL: srv.URL}).GetPrices(context.Background(), []model.Asset{stock("AAPL")})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestYahoo_MetaPriceAndCloseFallback(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v8/finance/chart/AAPL":
			_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":151.2}}]}}`))
		case "/v8/finance/chart/^GSPC":
			_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{},"indicators":{"quote":[{"close":[5000.5,null]}]}}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
		}
	})
	p := NewYahoo(Options{BaseURL: srv.URL})
	quotes, err := p.GetPrices(context.Background(), []model.Asset{stock("AAPL"), stock("SPX"), stock("NOPE")})
	require.NoError(t, err)
	assert.Equal(t, model.Quotes{"AAPL": 151.2, "SPX": 5000.5}, quotes)
}
