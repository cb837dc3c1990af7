package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountView is the cached projection of an account. It is not served to
// clients; UserID is kept for ownership checks.
type AccountView struct {
	AccountNo int64           `json:"accountNo"`
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// ToAccount converts the cached projection back to the account model.
func (v *AccountView) ToAccount() *Account {
	return &Account{
		AccountNo: v.AccountNo,
		UserID:    v.UserID,
		Balance:   v.Balance,
		UpdatedAt: v.UpdatedAt,
	}
}

// TransactionView is the read-optimised projection of a transaction.
// UserID is populated for ownership checks but never serialised to the API response.
type TransactionView struct {
	ID                      string            `json:"id"`
	AccountNo               int64             `json:"accountNo"`
	UserID                  string            `json:"-"`
	Type                    TransactionType   `json:"type"`
	Amount                  decimal.Decimal   `json:"amount"`
	BalanceAfterTransaction decimal.Decimal   `json:"balanceAfterTransaction"`
	DestinationAccountNo    *int64            `json:"destinationAccountNo,omitempty"`
	Status                  TransactionStatus `json:"status"`
	CreatedAt               time.Time         `json:"createdTimestamp"`
}

// NewTransactionView converts the write model to its read projection.
func NewTransactionView(t *Transaction) *TransactionView {
	return &TransactionView{
		ID:                      t.ID,
		AccountNo:               t.AccountNo,
		UserID:                  t.UserID,
		Type:                    t.Type,
		Amount:                  t.Amount,
		BalanceAfterTransaction: t.BalanceAfterTransaction,
		DestinationAccountNo:    t.DestinationAccountNo,
		Status:                  TransactionPending,
		CreatedAt:               t.CreatedAt,
	}
}
