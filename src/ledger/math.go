package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	pricePlaces = 8
	roiPlaces   = 4
)

var hundred = decimal.NewFromInt(100)

func isLongSide(side string) bool {
	s := strings.ToLower(strings.TrimSpace(side))
	return s == "buy" || s == "long"
}

func isShortSide(side string) bool {
	s := strings.ToLower(strings.TrimSpace(side))
	return s == "sell" || s == "short"
}

func leverageFactor(leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return decimal.NewFromInt(int64(leverage))
}

// WeightedAverage returns (size*entry + fillSize*fillPrice) / (size + fillSize) rounded to 8 places.
func WeightedAverage(size, entry, fillSize, fillPrice decimal.Decimal) decimal.Decimal {
	total := size.Add(fillSize)
	if total.IsZero() {
		return fillPrice.Round(pricePlaces)
	}
	return size.Mul(entry).Add(fillSize.Mul(fillPrice)).Div(total).Round(pricePlaces)
}

// EstimateLiquidation is entry*(1-1/lev) for longs and entry*(1+1/lev) for shorts.
// Leverage below 1 counts as 1. Unknown sides get the entry back unchanged.
func EstimateLiquidation(side string, entry decimal.Decimal, leverage int) decimal.Decimal {
	inverse := decimal.NewFromInt(1).Div(leverageFactor(leverage))
	switch {
	case isLongSide(side):
		return entry.Mul(decimal.NewFromInt(1).Sub(inverse)).Round(pricePlaces)
	case isShortSide(side):
		return entry.Mul(decimal.NewFromInt(1).Add(inverse)).Round(pricePlaces)
	default:
		return entry
	}
}

// ROI is the leveraged percentage return of price against entry, rounded to 4 places.
func ROI(side string, entry, price decimal.Decimal, leverage int) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	var move decimal.Decimal
	switch {
	case isLongSide(side):
		move = price.Sub(entry)
	case isShortSide(side):
		move = entry.Sub(price)
	default:
		return decimal.Zero
	}
	return move.Div(entry).Mul(hundred).Mul(leverageFactor(leverage)).Round(roiPlaces)
}

// ReductionQuantity converts a percentage of size into an absolute quantity.
func ReductionQuantity(size, percent decimal.Decimal) decimal.Decimal {
	return size.Mul(percent).Div(hundred)
}
