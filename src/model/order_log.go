package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLog is an immutable snapshot written whenever an order is created or changes status.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	// Snapshot of the order at the moment of this log entry
	ExchangeID  uint             `gorm:"index" json:"exchange_id"`
	PositionID  *uint            `json:"position_id,omitempty"`
	Symbol      string           `gorm:"size:60" json:"symbol"`
	Side        string           `gorm:"size:10" json:"side"`
	Description string           `gorm:"size:40" json:"description"`
	Size        decimal.Decimal  `gorm:"type:numeric(38,18)" json:"size"`
	Price       *decimal.Decimal `gorm:"type:numeric(38,18)" json:"price,omitempty"`
	Status      string           `gorm:"size:20;not null" json:"status"`
	Reason      string           `gorm:"size:255" json:"reason"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TableName allows you to control the exact table name for order logs.
func (OrderLog) TableName() string {
	return "order_logs"
}

// NewOrderLog snapshots the order with the given status and reason.
func NewOrderLog(order *Order, status, reason string) *OrderLog {
	return &OrderLog{
		OrderID:     order.ID,
		ExchangeID:  order.ExchangeID,
		PositionID:  order.PositionID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Description: order.Description,
		Size:        order.Size,
		Price:       order.Price,
		Status:      status,
		Reason:      reason,
		CreatedAt:   time.Now(),
	}
}
