package repository

import "errors"

// ErrVersionConflict is returned when a row changed between read and conditional write.
var ErrVersionConflict = errors.New("concurrent update detected")

// ErrInvalidTransition is returned when an order status change would move backwards.
var ErrInvalidTransition = errors.New("invalid order status transition")
