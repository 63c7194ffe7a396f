package collector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"AlertSentinel/internal/model"
)

// Fallback tries providers in order. Assets a provider could not price are
// retried on the next one; the union of all quotes is returned.
type Fallback struct {
	providers []Provider
	log       *zap.Logger
}

func NewFallback(log *zap.Logger, providers ...Provider) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{providers: providers, log: log}
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

func (f *Fallback) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	quotes := make(model.Quotes, len(assets))
	remaining := assets

	var errs error
	for _, p := range f.providers {
		if len(remaining) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		got, err := p.GetPrices(ctx, remaining)
		if err != nil {
			f.log.Warn("provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Int("assets", len(remaining)),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		for id, price := range got {
			quotes[id] = price
		}
		remaining = missing(remaining, quotes)
	}

	if len(quotes) == 0 && errs != nil {
		return nil, errs
	}
	return quotes, nil
}

func missing(assets []model.Asset, quotes model.Quotes) []model.Asset {
	var out []model.Asset
	for _, a := range assets {
		if _, ok := quotes[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}
