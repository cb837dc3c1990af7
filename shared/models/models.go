package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit     TransactionType = "deposit"
	TransactionWithdraw    TransactionType = "withdraw"
	TransactionTransfer    TransactionType = "transfer"
	TransactionLoanRequest TransactionType = "loan_request"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionWithdraw, TransactionTransfer, TransactionLoanRequest:
		return true
	}
	return false
}

// TransactionStatus tracks whether a transaction's balance effect has been
// applied. It lives in its own settlement record, not on the transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionRejected  TransactionStatus = "rejected"
)

type Account struct {
	AccountNo int64           `json:"accountNo"`
	UserID    string          `json:"-"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdTimestamp"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// Transaction is immutable once persisted. BalanceAfterTransaction is the
// acting account's balance at validation time, not the balance after the
// transaction's effect is applied.
type Transaction struct {
	ID                      string          `json:"id"`
	AccountNo               int64           `json:"accountNo"`
	UserID                  string          `json:"userId"`
	Type                    TransactionType `json:"type"`
	Amount                  decimal.Decimal `json:"amount"`
	BalanceAfterTransaction decimal.Decimal `json:"balanceAfterTransaction"`
	DestinationAccountNo    *int64          `json:"destinationAccountNo,omitempty"`
	CreatedAt               time.Time       `json:"createdTimestamp"`
}
