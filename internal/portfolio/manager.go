package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"AlertSentinel/internal/collector"
	"AlertSentinel/internal/model"
	"AlertSentinel/internal/store"
)

var (
	// ErrInsufficientQuantity is returned when selling more than is held.
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	// ErrInvalidTrade wraps validation failures of a trade.
	ErrInvalidTrade = errors.New("invalid trade")
)

var validate = validator.New()

// Trade is one simulated buy or sell.
type Trade struct {
	AssetID     string           `validate:"required"`
	AssetName   string           `validate:"-"`
	AssetSymbol string           `validate:"-"`
	AssetClass  model.AssetClass `validate:"oneof=CRYPTO STOCK"`
	Quantity    float64          `validate:"gt=0"`
	// Price is the fill price; ignored for sells.
	Price float64 `validate:"gte=0"`
}

// Manager handles simulated portfolio positions with concurrency safety.
type Manager struct {
	mu        sync.Mutex
	store     store.HoldingStore
	providers map[model.AssetClass]collector.Provider
	log       *zap.Logger
	now       func() time.Time
}

// NewManager creates a Manager backed by the holding store.
func NewManager(st store.HoldingStore, providers map[model.AssetClass]collector.Provider, log *zap.Logger) *Manager {
	return &Manager{store: st, providers: providers, log: log, now: time.Now}
}

// Buy adds to a position, moving its average cost to the weighted average
// of the old cost and the fill.
func (m *Manager) Buy(ctx context.Context, t Trade) (model.Holding, error) {
	if err := validate.Struct(t); err != nil {
		return model.Holding{}, fmt.Errorf("%w: %w", ErrInvalidTrade, err)
	}
	if t.Price <= 0 {
		return model.Holding{}, fmt.Errorf("%w: price must be positive", ErrInvalidTrade)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.store.GetHolding(ctx, t.AssetID, t.AssetClass)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h = model.Holding{AssetID: t.AssetID, AssetClass: t.AssetClass}
	case err != nil:
		return model.Holding{}, fmt.Errorf("load holding: %w", err)
	}

	total := h.Quantity + t.Quantity
	h.AvgCost = (h.Quantity*h.AvgCost + t.Quantity*t.Price) / total
	h.Quantity = total
	if t.AssetName != "" {
		h.AssetName = t.AssetName
	}
	if t.AssetSymbol != "" {
		h.AssetSymbol = t.AssetSymbol
	}
	if h.AssetSymbol == "" {
		h.AssetSymbol = t.AssetID
	}
	h.UpdatedAt = m.now()

	if err := m.store.UpsertHolding(ctx, h); err != nil {
		return model.Holding{}, fmt.Errorf("save holding: %w", err)
	}
	m.log.Info("simulated buy",
		zap.String("asset_id", h.AssetID),
		zap.Float64("qty", t.Quantity),
		zap.Float64("price", t.Price),
		zap.Float64("avg_cost", h.AvgCost))
	return h, nil
}

// Sell reduces a position. Selling the whole position removes it and
// returns a holding with zero quantity.
func (m *Manager) Sell(ctx context.Context, t Trade) (model.Holding, error) {
	if err := validate.Struct(t); err != nil {
		return model.Holding{}, fmt.Errorf("%w: %w", ErrInvalidTrade, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.store.GetHolding(ctx, t.AssetID, t.AssetClass)
	if err != nil {
		return model.Holding{}, fmt.Errorf("load holding: %w", err)
	}
	if t.Quantity > h.Quantity {
		return h, fmt.Errorf("%w: hold %g, selling %g", ErrInsufficientQuantity, h.Quantity, t.Quantity)
	}

	if t.Quantity == h.Quantity {
		if err := m.store.DeleteHolding(ctx, h.AssetID, h.AssetClass); err != nil {
			return model.Holding{}, fmt.Errorf("delete holding: %w", err)
		}
		h.Quantity = 0
	} else {
		h.Quantity -= t.Quantity
		h.UpdatedAt = m.now()
		if err := m.store.UpsertHolding(ctx, h); err != nil {
			return model.Holding{}, fmt.Errorf("save holding: %w", err)
		}
	}
	m.log.Info("simulated sell",
		zap.String("asset_id", h.AssetID),
		zap.Float64("qty", t.Quantity),
		zap.Float64("remaining", h.Quantity))
	return h, nil
}

// Summary values every holding with one batched price call per asset class.
// Positions of a class whose prices could not be fetched are unpriced.
func (m *Manager) Summary(ctx context.Context) (model.PortfolioSummary, error) {
	holdings, err := m.store.ListHoldings(ctx)
	if err != nil {
		return model.PortfolioSummary{}, fmt.Errorf("list holdings: %w", err)
	}

	byClass := make(map[model.AssetClass][]model.Asset)
	for i := range holdings {
		h := &holdings[i]
		byClass[h.AssetClass] = append(byClass[h.AssetClass], h.Asset())
	}

	quotes := make(model.Quotes)
	for _, class := range model.AssetClasses {
		assets := byClass[class]
		if len(assets) == 0 {
			continue
		}
		p, ok := m.providers[class]
		if !ok {
			m.log.Warn("no provider for asset class", zap.String("asset_class", string(class)))
			continue
		}
		q, err := p.GetPrices(ctx, assets)
		if err != nil {
			m.log.Warn("portfolio pricing failed",
				zap.String("asset_class", string(class)),
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		for _, a := range assets {
			if price, ok := q[a.ID]; ok {
				quotes[string(class)+":"+a.ID] = price
			}
		}
	}

	s := model.PortfolioSummary{ValuedAt: m.now()}
	for _, h := range holdings {
		pos := model.Position{Holding: h, CostBasis: h.Quantity * h.AvgCost}
		price, ok := quotes[string(h.AssetClass)+":"+h.AssetID]
		if !ok {
			s.Unpriced++
			s.Positions = append(s.Positions, pos)
			continue
		}
		pos.Priced = true
		pos.Price = price
		pos.MarketValue = h.Quantity * price
		pos.PnL = pos.MarketValue - pos.CostBasis
		if pos.CostBasis > 0 {
			pos.PnLPercent = pos.PnL / pos.CostBasis * 100
		}
		s.TotalValue += pos.MarketValue
		s.TotalCost += pos.CostBasis
		s.Positions = append(s.Positions, pos)
	}
	s.TotalPnL = s.TotalValue - s.TotalCost
	return s, nil
}
