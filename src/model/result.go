package model

// ExchangeOrderResult is the normalized outcome of a dispatch attempt.
// Response is kept for audit and display only.
type ExchangeOrderResult struct {
	Success         bool   `json:"success"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	Response        string `json:"response,omitempty"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	ClientOrderID   string `json:"client_order_id,omitempty"`
}

// FailedResult builds a failed result with the given code and message.
func FailedResult(code, message string) ExchangeOrderResult {
	return ExchangeOrderResult{Success: false, ErrorCode: code, ErrorMessage: message}
}
