// Package form validates submitted transactions before they are persisted.
//
// There is one validator per transaction type. Each is a pure function of its
// inputs: the submitted amount, the acting account's balance and, for
// transfers, the destination account. On success Validate returns a
// transaction stamped with the acting account and its balance at validation
// time; on failure it returns a *ValidationError and nothing is persisted.
package form

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/eaglebank/teller/shared/models"
)

// Field names used in ValidationError.
const (
	FieldAmount          = "amount"
	FieldAccountNo       = "account_no"
	FieldTransactionType = "transaction_type"
)

// AccountLookup resolves transfer destinations. Implementations return an
// error wrapping models.ErrAccountNotFound for unknown accounts.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountNo int64) (*models.Account, error)
}

// Submission is the user input for one transaction. Type is fixed by the
// endpoint that received the request, never by the user.
type Submission struct {
	Type   models.TransactionType
	Amount decimal.NullDecimal
	// AccountNo is the transfer destination. Ignored for other types.
	AccountNo *int64
}

// TransferRequest is the transient input of a transfer.
type TransferRequest struct {
	Amount    decimal.Decimal
	AccountNo *int64
}

// Validate runs the amount field cleaning and the rule for sub.Type against
// account, then finalizes the transaction.
func Validate(ctx context.Context, accounts AccountLookup, account *models.Account, sub Submission) (*models.Transaction, error) {
	amount, err := CleanAmountField(sub.Amount)
	if err != nil {
		return nil, err
	}

	switch sub.Type {
	case models.TransactionDeposit:
		amount, err = CleanDeposit(amount)
	case models.TransactionWithdraw:
		amount, err = CleanWithdraw(amount, account.Balance)
	case models.TransactionTransfer:
		amount, err = CleanTransfer(ctx, accounts, TransferRequest{Amount: amount, AccountNo: sub.AccountNo})
	case models.TransactionLoanRequest:
		amount, err = CleanLoanRequest(amount)
	default:
		return nil, invalid(FieldTransactionType, "Select a valid choice. %s is not one of the available choices.", sub.Type)
	}
	if err != nil {
		return nil, err
	}

	var destination *int64
	if sub.Type == models.TransactionTransfer {
		destination = sub.AccountNo
	}
	return Finalize(account, sub.Type, amount, destination), nil
}

// Finalize stamps a validated amount with the acting account and its current
// balance. The balance is a snapshot: the transaction's own effect is not applied.
func Finalize(account *models.Account, typ models.TransactionType, amount decimal.Decimal, destination *int64) *models.Transaction {
	tx := &models.Transaction{
		AccountNo:               account.AccountNo,
		UserID:                  account.UserID,
		Type:                    typ,
		Amount:                  amount,
		BalanceAfterTransaction: account.Balance,
	}
	if destination != nil {
		no := *destination
		tx.DestinationAccountNo = &no
	}
	return tx
}
