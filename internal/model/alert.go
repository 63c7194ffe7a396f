package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of the target price an alert watches.
type Direction string

const (
	DirectionAbove Direction = "ABOVE"
	DirectionBelow Direction = "BELOW"
)

// Word returns the lower-case form used in notification text.
func (d Direction) Word() string {
	return strings.ToLower(string(d))
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// ParseDirection accepts "above"/"below" in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// AssetClass selects the market data provider chain for an asset.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassStock  AssetClass = "STOCK"
)

// AssetClasses lists every class in evaluation order.
var AssetClasses = []AssetClass{AssetClassCrypto, AssetClassStock}

func (c AssetClass) Valid() bool {
	return c == AssetClassCrypto || c == AssetClassStock
}

// ParseAssetClass accepts "crypto"/"stock" in any case.
func ParseAssetClass(s string) (AssetClass, error) {
	c := AssetClass(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown asset class %q", s)
	}
	return c, nil
}

// PriceAlert is one user-defined watch condition.
type PriceAlert struct {
	ID          int64      `validate:"-"`
	AssetID     string     `validate:"required"`
	AssetName   string     `validate:"-"`
	AssetSymbol string     `validate:"required"`
	TargetPrice float64    `validate:"gt=0"`
	Direction   Direction  `validate:"oneof=ABOVE BELOW"`
	IsActive    bool       `validate:"-"`
	AssetClass  AssetClass `validate:"oneof=CRYPTO STOCK"`
	CreatedAt   time.Time  `validate:"-"`
}

// Triggered reports whether price satisfies the alert condition.
// Equality triggers in both directions.
func (a *PriceAlert) Triggered(price float64) bool {
	if a.Direction == DirectionAbove {
		return price >= a.TargetPrice
	}
	return price <= a.TargetPrice
}

// Asset returns the priceable asset the alert refers to.
func (a *PriceAlert) Asset() Asset {
	return Asset{ID: a.AssetID, Symbol: a.AssetSymbol, Class: a.AssetClass}
}
