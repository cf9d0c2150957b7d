package model

import "time"

const (
	ExceptionLevelWarn  = "warn"
	ExceptionLevelError = "error"
	ExceptionLevelFatal = "fatal"
)

// Exception is a caught failure persisted for auditing and diagnosis.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "position_engine"
	Source  string `gorm:"size:150;index" json:"source"`  // e.g. "watchdog.CloseOrdersAndPosition"

	// Error information
	Message string `gorm:"type:text" json:"message"`         // operator facing summary
	Error   string `gorm:"type:text" json:"error,omitempty"` // err.Error(), when an error was caught
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // warn | error | fatal

	// Extra context stored as JSON (position id, symbol, user id...)
	Context string `gorm:"type:jsonb;not null;default:'{}'" json:"context"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
