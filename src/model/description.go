package model

import (
	"errors"
	"fmt"
	"strings"
)

// OrderKind is the role an order plays for its position.
type OrderKind int

const (
	OrderKindEntry OrderKind = iota + 1
	OrderKindTakeProfit
	OrderKindStoploss
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindEntry:
		return "entry"
	case OrderKindTakeProfit:
		return "take_profit"
	case OrderKindStoploss:
		return "stoploss"
	default:
		return "unknown"
	}
}

// Canonical description labels stored on orders.
const (
	DescriptionEntry    = "Entry"
	DescriptionDCA      = "DCA"
	DescriptionTP1      = "TP1"
	DescriptionTP2      = "TP2"
	DescriptionTP3      = "TP3"
	DescriptionTP4      = "TP4"
	DescriptionTP5      = "TP5"
	DescriptionTPMoveSL = "TP+MoveSL"
	DescriptionMoonbag  = "Moonbag"
	DescriptionStoploss = "Stoploss"
)

// ErrUnknownDescription is returned for labels outside the whitelist.
var ErrUnknownDescription = errors.New("unknown order description")

var descriptionKinds = map[string]OrderKind{
	DescriptionEntry:    OrderKindEntry,
	DescriptionDCA:      OrderKindEntry,
	DescriptionTP1:      OrderKindTakeProfit,
	DescriptionTP2:      OrderKindTakeProfit,
	DescriptionTP3:      OrderKindTakeProfit,
	DescriptionTP4:      OrderKindTakeProfit,
	DescriptionTP5:      OrderKindTakeProfit,
	DescriptionTPMoveSL: OrderKindTakeProfit,
	DescriptionMoonbag:  OrderKindTakeProfit,
	DescriptionStoploss: OrderKindStoploss,
}

// CanonicalDescription maps a label to its stored spelling using an exact,
// case-insensitive match.
func CanonicalDescription(label string) (string, error) {
	trimmed := strings.TrimSpace(label)
	for canonical := range descriptionKinds {
		if strings.EqualFold(canonical, trimmed) {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDescription, label)
}

// KindForDescription derives the order kind for a description label.
func KindForDescription(label string) (OrderKind, error) {
	canonical, err := CanonicalDescription(label)
	if err != nil {
		return 0, err
	}
	return descriptionKinds[canonical], nil
}

// StoplossDescriptions lists the labels that flag a stoploss order.
func StoplossDescriptions() []string {
	return []string{DescriptionStoploss}
}
