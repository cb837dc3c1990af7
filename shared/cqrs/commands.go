package cqrs

import (
	"github.com/shopspring/decimal"

	"github.com/eaglebank/teller/shared/models"
)

// CreateTransactionCommand carries one submitted transaction. Type is set by
// the endpoint, DestinationAccountNo only by the transfer endpoint.
type CreateTransactionCommand struct {
	AccountNo            int64
	UserID               string
	Type                 models.TransactionType
	Amount               decimal.NullDecimal
	DestinationAccountNo *int64
}
