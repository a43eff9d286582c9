package models

import "errors"

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientInventory = errors.New("insufficient ticket quantity")
	ErrInsufficientPoints    = errors.New("insufficient points")
	ErrInvalidTransition     = errors.New("invalid order status transition")
	ErrPaymentInProgress     = errors.New("payment creation already in progress")
	ErrGateway               = errors.New("payment gateway error")
)
