package models

import "errors"

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInsufficientFunds is returned when a balance move would take an account negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("account does not belong to user")
	// ErrTransactionSettled is returned when a transaction's balance effect was
	// already applied or rejected.
	ErrTransactionSettled = errors.New("transaction already settled")
)
