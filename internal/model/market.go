package model

import "time"

// Asset identifies something a provider can price.
type Asset struct {
	ID     string
	Symbol string
	Class  AssetClass
}

// Quotes maps asset ID to the latest USD price.
type Quotes map[string]float64

// DistinctAssets returns the assets of alerts with duplicate IDs removed,
// keeping first-seen order.
func DistinctAssets(alerts []PriceAlert) []Asset {
	seen := make(map[string]bool, len(alerts))
	assets := make([]Asset, 0, len(alerts))
	for i := range alerts {
		if seen[alerts[i].AssetID] {
			continue
		}
		seen[alerts[i].AssetID] = true
		assets = append(assets, alerts[i].Asset())
	}
	return assets
}

// Favorite is an asset pinned by the user.
type Favorite struct {
	AssetID     string
	AssetName   string
	AssetSymbol string
	AssetClass  AssetClass
	AddedAt     time.Time
}

// Holding is one position of the simulated portfolio.
type Holding struct {
	AssetID     string     `validate:"required"`
	AssetName   string     `validate:"-"`
	AssetSymbol string     `validate:"required"`
	AssetClass  AssetClass `validate:"oneof=CRYPTO STOCK"`
	Quantity    float64    `validate:"gt=0"`
	AvgCost     float64    `validate:"gt=0"`
	UpdatedAt   time.Time  `validate:"-"`
}

// Asset returns the priceable asset of the holding.
func (h *Holding) Asset() Asset {
	return Asset{ID: h.AssetID, Symbol: h.AssetSymbol, Class: h.AssetClass}
}

// Position is a holding valued at the current market price.
type Position struct {
	Holding
	Priced      bool
	Price       float64
	MarketValue float64
	CostBasis   float64
	PnL         float64
	PnLPercent  float64
}

// PortfolioSummary aggregates all valued positions.
type PortfolioSummary struct {
	Positions  []Position
	TotalValue float64
	TotalCost  float64
	TotalPnL   float64
	Unpriced   int
	ValuedAt   time.Time
}
