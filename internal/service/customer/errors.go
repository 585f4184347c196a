package customer

import "errors"

// Sentinel errors for the customer service layer.
var (
	ErrNotFound        = errors.New("customer not found")
	ErrDuplicate       = errors.New("customer with this email or phone already exists")
	ErrInvalidCustomer = errors.New("invalid customer")
	ErrInvalidOrder    = errors.New("invalid order")
)
