package collector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"AlertSentinel/internal/model"
)

// quoteFunc prices one ticker. ok is false when the upstream does not know it.
type quoteFunc func(ctx context.Context, ticker string) (price float64, ok bool, err error)

// fetchEach prices assets one ticker at a time for providers without a
// batch endpoint. It stops at the first rate limit and keeps what it has.
func (b *base) fetchEach(ctx context.Context, assets []model.Asset, fetch quoteFunc) (model.Quotes, error) {
	quotes := make(model.Quotes, len(assets))
	byTicker, symbols := tickers(assets, assetID)

	var errs error
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		price, ok, err := fetch(ctx, sym)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sym, err))
			if errors.Is(err, ErrRateLimited) {
				b.log.Warn("quota exhausted, stopping batch",
					zap.String("symbol", sym),
					zap.Int("priced", len(quotes)),
					zap.Int("requested", len(symbols)))
				break
			}
			continue
		}
		if !ok {
			continue
		}
		for _, id := range byTicker[sym] {
			quotes[id] = price
		}
	}

	if len(quotes) == 0 && errs != nil {
		return nil, errs
	}
	if errs != nil {
		b.log.Warn("partial batch", zap.Error(errs))
	}
	return quotes, nil
}
