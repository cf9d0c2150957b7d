package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusOpen      = "OPEN"
	OrderStatusClosed    = "CLOSED"
	OrderStatusCancelled = "CANCELLED"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order represents an instruction sent (or attempted) to an exchange.
type Order struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	SignalID   uint  `gorm:"index" json:"signal_id"` // 0 for manually created test orders
	UserID     uint  `gorm:"index;not null" json:"user_id"`
	ExchangeID uint  `gorm:"index;not null" json:"exchange_id"`
	PositionID *uint `gorm:"index" json:"position_id,omitempty"`

	Symbol        string           `gorm:"size:60;index;not null" json:"symbol"`
	Side          string           `gorm:"size:10;not null" json:"side"`
	Price         *decimal.Decimal `gorm:"type:numeric(38,18)" json:"price,omitempty"` // nil means market order
	Stoploss      *decimal.Decimal `gorm:"type:numeric(38,18)" json:"stoploss,omitempty"`
	Size          decimal.Decimal  `gorm:"type:numeric(38,18);not null" json:"size"`
	ReducePercent *decimal.Decimal `gorm:"type:numeric(10,4)" json:"reduce_percent,omitempty"`
	Leverage      int              `gorm:"not null;default:1" json:"leverage"`
	IsIsolated    bool             `gorm:"not null;default:false" json:"is_isolated"`
	Status        string           `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	Description   string           `gorm:"size:40;not null" json:"description"`

	ExchangeOrderID  string `gorm:"size:255" json:"exchange_order_id,omitempty"`
	ClientOrderID    string `gorm:"size:255" json:"client_order_id,omitempty"`
	ExchangeResponse string `gorm:"type:text" json:"exchange_response,omitempty"`
	ErrorCode        string `gorm:"size:100" json:"error_code,omitempty"`
	ErrorMessage     string `gorm:"type:text" json:"error_message,omitempty"`

	Time      time.Time  `gorm:"not null" json:"time"`
	CloseTime *time.Time `json:"close_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// One-to-many relation: every status change leaves an audit snapshot
	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// Kind resolves the order role from its description label.
func (o *Order) Kind() (OrderKind, error) {
	return KindForDescription(o.Description)
}

// IsTerminal reports whether the order can no longer change status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusClosed || o.Status == OrderStatusCancelled
}

var orderTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusOpen, OrderStatusCancelled, OrderStatusClosed},
	OrderStatusOpen:    {OrderStatusClosed, OrderStatusCancelled},
}

// CanTransitionOrder reports whether an order may move from one status to another.
// Statuses only move forward; CLOSED and CANCELLED are terminal.
func CanTransitionOrder(from, to string) bool {
	if from == to {
		return false
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
