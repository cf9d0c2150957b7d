package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusOpen   = "OPEN"
	PositionStatusClosed = "CLOSED"
)

// Position is the aggregated exposure of one user/symbol/side tuple.
// Only one OPEN row may exist per tuple; the partial unique index below enforces it.
type Position struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"not null;uniqueIndex:idx_positions_open_tuple,where:status = 'OPEN'" json:"user_id"`
	ExchangeID uint   `gorm:"index;not null" json:"exchange_id"`
	Symbol     string `gorm:"size:60;not null;uniqueIndex:idx_positions_open_tuple,where:status = 'OPEN'" json:"symbol"`
	Side       string `gorm:"size:10;not null;uniqueIndex:idx_positions_open_tuple,where:status = 'OPEN'" json:"side"`

	// Size is kept as decimal text so repeated updates never drift.
	Size           decimal.Decimal  `gorm:"type:text;not null" json:"size"`
	Leverage       int              `gorm:"not null;default:1" json:"leverage"`
	Entry          decimal.Decimal  `gorm:"type:numeric(38,18);not null" json:"entry"`
	Stoploss       decimal.Decimal  `gorm:"type:numeric(38,18);not null;default:0" json:"stoploss"`
	Roi            decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"roi"`
	EstLiquidation decimal.Decimal  `gorm:"type:numeric(38,18);not null;default:0" json:"est_liquidation"`
	ExitPrice      *decimal.Decimal `gorm:"type:numeric(38,18)" json:"exit_price,omitempty"`

	Status     string `gorm:"size:20;not null;default:OPEN;index" json:"status"`
	IsIsolated bool   `gorm:"not null;default:false" json:"is_isolated"`
	IsTest     bool   `gorm:"not null;default:false" json:"is_test"`

	// Version is bumped on every write; updates compare it to detect lost updates.
	Version uint `gorm:"not null;default:1" json:"version"`

	Time      time.Time  `gorm:"not null" json:"time"`
	CloseTime *time.Time `json:"close_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// TupleKey identifies the (user, symbol, side) tuple a position belongs to.
func TupleKey(userID uint, symbol, side string) string {
	return fmt.Sprintf("%d|%s|%s", userID, strings.ToUpper(symbol), strings.ToLower(side))
}
