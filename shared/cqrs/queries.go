package cqrs

import "github.com/eaglebank/teller/shared/models"

// GetTransactionQuery fetches a single transaction.
type GetTransactionQuery struct {
	TransactionID string
	AccountNo     int64
	UserID        string
}

// ListTransactionsQuery fetches the transactions of an account, newest first.
// An empty Type lists every type.
type ListTransactionsQuery struct {
	AccountNo int64
	UserID    string
	Type      models.TransactionType
}
