package collector

import (
	"context"

	"AlertSentinel/internal/cache"
	"AlertSentinel/internal/model"
)

// Cached serves fresh quotes from a PriceCache and asks the wrapped provider
// only for the rest, in one call.
type Cached struct {
	Provider Provider
	Cache    cache.PriceCache
}

func NewCached(p Provider, c cache.PriceCache) *Cached {
	return &Cached{Provider: p, Cache: c}
}

func (c *Cached) Name() string { return c.Provider.Name() }

func cacheKey(a model.Asset) string {
	return string(a.Class) + ":" + a.ID
}

func (c *Cached) GetPrices(ctx context.Context, assets []model.Asset) (model.Quotes, error) {
	quotes := make(model.Quotes, len(assets))
	var todo []model.Asset
	for _, a := range assets {
		if price, ok := c.Cache.Get(ctx, cacheKey(a)); ok {
			quotes[a.ID] = price
			continue
		}
		todo = append(todo, a)
	}
	if len(todo) == 0 {
		return quotes, nil
	}

	fresh, err := c.Provider.GetPrices(ctx, todo)
	if err != nil {
		if len(quotes) > 0 {
			return quotes, nil
		}
		return nil, err
	}
	for _, a := range todo {
		if price, ok := fresh[a.ID]; ok {
			c.Cache.Set(ctx, cacheKey(a), price)
			quotes[a.ID] = price
		}
	}
	return quotes, nil
}
