package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eaglebank/teller/shared/events"
	"github.com/eaglebank/teller/shared/models"
)

// Ledger settles transactions. Every settling call records the outcome and
// moves balances atomically, and fails with models.ErrTransactionSettled when
// the transaction was settled before. Debits and transfers fail with
// models.ErrInsufficientFunds rather than overdraw.
type Ledger interface {
	Credit(ctx context.Context, transactionID string, accountNo int64, amount decimal.Decimal) error
	Debit(ctx context.Context, transactionID string, accountNo int64, amount decimal.Decimal) error
	Transfer(ctx context.Context, transactionID string, from, to int64, amount decimal.Decimal) error
	Complete(ctx context.Context, transactionID string) error
	Reject(ctx context.Context, transactionID, reason string) error
	InvalidateAccount(ctx context.Context, accountNo int64)
	IsTransactionProcessed(ctx context.Context, transactionID string) bool
	MarkTransactionProcessed(ctx context.Context, transactionID string)
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

type TransactionViewInvalidator interface {
	InvalidateTransaction(ctx context.Context, accountNo int64, id string)
}

// BalanceProjector applies the balance effect of created transactions.
type BalanceProjector struct {
	ledger    Ledger
	views     TransactionViewInvalidator
	publisher EventPublisher
	logger    *zap.Logger
}

func NewBalanceProjector(ledger Ledger, views TransactionViewInvalidator, publisher EventPublisher, logger *zap.Logger) *BalanceProjector {
	return &BalanceProjector{ledger: ledger, views: views, publisher: publisher, logger: logger}
}

// HandleTransactionEvent settles the transaction announced by a
// transaction.created event. Redelivered events find the settlement already
// recorded and change nothing. Transactions whose effect can no longer be
// applied are settled as rejected. Malformed events fail with
// events.ErrPermanent.
func (p *BalanceProjector) HandleTransactionEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.TransactionCreated {
		return nil
	}
	var data events.TransactionCreatedEvent
	if err := events.Decode(event, &data); err != nil {
		return events.Permanent(err)
	}

	logger := p.logger.With(
		zap.String("transaction_id", data.TransactionID),
		zap.Int64("account_no", data.AccountNo),
		zap.String("type", data.Type),
	)

	if p.ledger.IsTransactionProcessed(ctx, data.TransactionID) {
		logger.Info("transaction already processed, skipping duplicate event")
		return nil
	}

	touched, err := p.apply(ctx, data)
	switch {
	case errors.Is(err, models.ErrTransactionSettled):
		logger.Info("transaction already settled, skipping duplicate event")
		// The first delivery may have stopped before clearing caches.
		p.invalidate(ctx, data)
		p.ledger.MarkTransactionProcessed(ctx, data.TransactionID)
		return nil
	case errors.Is(err, models.ErrInsufficientFunds), errors.Is(err, models.ErrAccountNotFound):
		logger.Warn("transaction cannot be applied, rejecting", zap.Stringer("amount", data.Amount), zap.Error(err))
		if err := p.ledger.Reject(ctx, data.TransactionID, err.Error()); err != nil && !errors.Is(err, models.ErrTransactionSettled) {
			return fmt.Errorf("failed to reject transaction %s: %w", data.TransactionID, err)
		}
		touched = nil
	case errors.Is(err, events.ErrPermanent):
		return err
	case errors.Is(err, models.ErrTransactionNotFound):
		return events.Permanent(err)
	case err != nil:
		return fmt.Errorf("failed to apply transaction %s: %w", data.TransactionID, err)
	}

	p.ledger.MarkTransactionProcessed(ctx, data.TransactionID)
	p.views.InvalidateTransaction(ctx, data.AccountNo, data.TransactionID)

	for _, change := range touched {
		p.ledger.InvalidateAccount(ctx, change.AccountNo)
		if err := p.publisher.Publish(ctx, events.AccountEventsStream, events.BalanceUpdated, change); err != nil {
			logger.Error("failed to publish balance.updated event", zap.Error(err))
		}
	}
	if len(touched) > 0 {
		logger.Info("balance updated", zap.Stringer("amount", data.Amount))
	}
	return nil
}

// apply settles the transaction and returns one BalanceUpdatedEvent per
// account whose balance changed.
func (p *BalanceProjector) apply(ctx context.Context, data events.TransactionCreatedEvent) ([]events.BalanceUpdatedEvent, error) {
	id := data.TransactionID
	change := func(accountNo int64, delta decimal.Decimal) events.BalanceUpdatedEvent {
		return events.BalanceUpdatedEvent{TransactionID: id, AccountNo: accountNo, Change: delta}
	}

	switch models.TransactionType(data.Type) {
	case models.TransactionDeposit:
		if err := p.ledger.Credit(ctx, id, data.AccountNo, data.Amount); err != nil {
			return nil, err
		}
		return []events.BalanceUpdatedEvent{change(data.AccountNo, data.Amount)}, nil

	case models.TransactionWithdraw:
		if err := p.ledger.Debit(ctx, id, data.AccountNo, data.Amount); err != nil {
			return nil, err
		}
		return []events.BalanceUpdatedEvent{change(data.AccountNo, data.Amount.Neg())}, nil

	case models.TransactionTransfer:
		if data.DestinationAccountNo == nil {
			return nil, p.ledger.Complete(ctx, id)
		}
		to := *data.DestinationAccountNo
		if err := p.ledger.Transfer(ctx, id, data.AccountNo, to, data.Amount); err != nil {
			return nil, err
		}
		return []events.BalanceUpdatedEvent{
			change(data.AccountNo, data.Amount.Neg()),
			change(to, data.Amount),
		}, nil

	case models.TransactionLoanRequest:
		// Loans are not disbursed here.
		return nil, p.ledger.Complete(ctx, id)
	}
	return nil, events.Permanent(fmt.Errorf("unknown transaction type %q", data.Type))
}

func (p *BalanceProjector) invalidate(ctx context.Context, data events.TransactionCreatedEvent) {
	p.views.InvalidateTransaction(ctx, data.AccountNo, data.TransactionID)
	p.ledger.InvalidateAccount(ctx, data.AccountNo)
	if data.DestinationAccountNo != nil {
		p.ledger.InvalidateAccount(ctx, *data.DestinationAccountNo)
	}
}
