package model

import "time"

// Exchange ids. ExchangeUnsupported is the sentinel for unknown selectors.
const (
	ExchangeUnsupported uint = 0
	ExchangeBitget      uint = 1
	ExchangeOKX         uint = 2
	ExchangeKucoin      uint = 3
	ExchangePhemex      uint = 4
	ExchangeKraken      uint = 5
)

// Exchange is a venue the engine can route orders to.
type Exchange struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:60;uniqueIndex;not null" json:"name"`
	BaseURL   string    `gorm:"size:255" json:"base_url"`
	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Exchange) TableName() string {
	return "exchanges"
}

// UserExchange stores a user's encrypted API credentials for one exchange.
type UserExchange struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index:idx_user_exchange,unique" json:"user_id"`
	ExchangeID        uint      `gorm:"not null;index:idx_user_exchange,unique" json:"exchange_id"`
	APIKeyHash        string    `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash     string    `gorm:"column:api_secret;type:text" json:"-"`
	APIPassphraseHash string    `gorm:"column:api_passphrase;type:text" json:"-"`
	IsTestnet         bool      `gorm:"column:is_testnet;not null;default:false" json:"is_testnet"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Exchange *Exchange `gorm:"constraint:OnDelete:CASCADE" json:"exchange,omitempty"`
}

func (UserExchange) TableName() string {
	return "user_exchanges"
}
