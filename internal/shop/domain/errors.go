package domain

import "errors"

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrUserNotFound     = errors.New("user not found")

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrEmptyOrder        = errors.New("order has no lines")

	ErrIdentifierMismatch      = errors.New("identifier mismatch")
	ErrAlreadyPaid             = errors.New("order already paid")
	ErrInvalidStatusTransition = errors.New("invalid payment status transition")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrPersistenceFailure      = errors.New("persistence failure")
	ErrVersionConflict         = errors.New("version conflict")
	ErrUsernameTaken           = errors.New("username already exists")
	ErrInvalidCredentials      = errors.New("invalid username or password")
)
