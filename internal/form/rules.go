package form

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eaglebank/teller/shared/models"
)

// Policy limits in currency units.
var (
	MinDepositAmount  = decimal.NewFromInt(100)
	MinWithdrawAmount = decimal.NewFromInt(500)
	MaxWithdrawAmount = decimal.NewFromInt(20000)
)

// Amount column precision.
const (
	amountMaxDigits     = 12
	amountDecimalPlaces = 2
)

// CleanAmountField applies the amount column constraints: present, positive,
// at most 12 digits with at most 2 after the decimal point.
func CleanAmountField(amount decimal.NullDecimal) (decimal.Decimal, error) {
	if !amount.Valid {
		return decimal.Decimal{}, invalid(FieldAmount, "This field is required.")
	}
	d := amount.Decimal
	if !d.IsPositive() {
		return decimal.Decimal{}, invalid(FieldAmount, "Ensure this value is greater than 0.")
	}

	digits, decimals := precision(d)
	switch {
	case digits > amountMaxDigits:
		return decimal.Decimal{}, invalid(FieldAmount, "Ensure that there are no more than %d digits in total.", amountMaxDigits)
	case decimals > amountDecimalPlaces:
		return decimal.Decimal{}, invalid(FieldAmount, "Ensure that there are no more than %d decimal places.", amountDecimalPlaces)
	case digits-decimals > amountMaxDigits-amountDecimalPlaces:
		return decimal.Decimal{}, invalid(FieldAmount, "Ensure that there are no more than %d digits before the decimal point.", amountMaxDigits-amountDecimalPlaces)
	}
	return d, nil
}

// precision counts total and fractional digits as written, so "100.50"
// has 5 digits and 2 decimals.
func precision(d decimal.Decimal) (digits, decimals int) {
	coef := d.Coefficient()
	n := len(coef.Abs(coef).String())
	exp := int(d.Exponent())
	if exp >= 0 {
		return n + exp, 0
	}
	decimals = -exp
	if decimals > n {
		return decimals, decimals
	}
	return n, decimals
}

// CleanDeposit rejects deposits below the minimum.
func CleanDeposit(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThan(MinDepositAmount) {
		return decimal.Decimal{}, invalid(FieldAmount, "You need to deposit at least %s $", MinDepositAmount)
	}
	return amount, nil
}

// CleanWithdraw checks the minimum, the maximum and the acting account's
// balance, in that order. The first failing rule is reported.
func CleanWithdraw(amount, balance decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThan(MinWithdrawAmount) {
		return decimal.Decimal{}, invalid(FieldAmount, "You can withdraw at least %s $", MinWithdrawAmount)
	}
	if amount.GreaterThan(MaxWithdrawAmount) {
		return decimal.Decimal{}, invalid(FieldAmount, "You can withdraw at most %s $", MaxWithdrawAmount)
	}
	if amount.GreaterThan(balance) {
		return decimal.Decimal{}, invalid(FieldAmount, "You have %s $ in your account. The bank is bankrupt", balance.StringFixed(amountDecimalPlaces))
	}
	return amount, nil
}

// CleanTransfer requires a supplied destination to exist and the amount not to
// exceed the destination's balance. The balance compared is the destination's,
// not the sender's. Without a destination the amount is accepted unchecked.
func CleanTransfer(ctx context.Context, accounts AccountLookup, req TransferRequest) (decimal.Decimal, error) {
	if req.AccountNo == nil {
		return req.Amount, nil
	}

	destination, err := accounts.GetAccount(ctx, *req.AccountNo)
	if errors.Is(err, models.ErrAccountNotFound) {
		return decimal.Decimal{}, invalid(FieldAccountNo, "User with account %d does not exist", *req.AccountNo)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to look up account %d: %w", *req.AccountNo, err)
	}

	if req.Amount.GreaterThan(destination.Balance) {
		return decimal.Decimal{}, invalid(FieldAmount, "You don't have enough money")
	}
	return req.Amount, nil
}

// CleanLoanRequest accepts any amount.
func CleanLoanRequest(amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}
