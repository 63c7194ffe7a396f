package store

import (
	"context"
	"errors"

	"AlertSentinel/internal/model"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by Insert when an active alert with the
	// same condition is already stored.
	ErrAlreadyExists = errors.New("alert already exists")
	// ErrInvalid wraps validation failures of new records.
	ErrInvalid = errors.New("invalid input")
	// ErrUnavailable wraps failures talking to the database itself.
	ErrUnavailable = errors.New("store unavailable")
)

// AlertStore persists price alerts.
type AlertStore interface {
	ListActive(ctx context.Context) ([]model.PriceAlert, error)
	ListAlerts(ctx context.Context) ([]model.PriceAlert, error)
	GetAlert(ctx context.Context, id int64) (model.PriceAlert, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteByID(ctx context.Context, id int64) error
	ExistsByCondition(ctx context.Context, assetID string, price float64, dir model.Direction, class model.AssetClass) (bool, error)
	Insert(ctx context.Context, alert model.PriceAlert) (int64, error)
}

// FavoriteStore persists the user's favorites list.
type FavoriteStore interface {
	AddFavorite(ctx context.Context, fav model.Favorite) error
	RemoveFavorite(ctx context.Context, assetID string, class model.AssetClass) error
	ListFavorites(ctx context.Context) ([]model.Favorite, error)
	IsFavorite(ctx context.Context, assetID string, class model.AssetClass) (bool, error)
}

// HoldingStore persists simulated portfolio positions.
type HoldingStore interface {
	UpsertHolding(ctx context.Context, h model.Holding) error
	GetHolding(ctx context.Context, assetID string, class model.AssetClass) (model.Holding, error)
	DeleteHolding(ctx context.Context, assetID string, class model.AssetClass) error
	ListHoldings(ctx context.Context) ([]model.Holding, error)
}

// Store is everything the worker persists.
type Store interface {
	AlertStore
	FavoriteStore
	HoldingStore
	Close() error
}
