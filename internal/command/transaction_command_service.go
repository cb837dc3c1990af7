package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eaglebank/teller/internal/form"
	"github.com/eaglebank/teller/shared/cqrs"
	"github.com/eaglebank/teller/shared/events"
	"github.com/eaglebank/teller/shared/models"
	"github.com/eaglebank/teller/shared/outbox"
	"github.com/eaglebank/teller/shared/utils"
)

// TransactionWriter persists a transaction together with the event announcing
// it: both are stored or neither is.
type TransactionWriter interface {
	Create(ctx context.Context, transaction *models.Transaction, event outbox.Event) error
}

type TransactionViewCacher interface {
	CacheTransactionView(ctx context.Context, view *models.TransactionView)
}

// TransactionCommandService creates transactions. It checks account ownership,
// runs the form validator for the transaction type, then writes the
// transaction and its transaction.created event to Postgres. The outbox
// dispatcher publishes the event and the BalanceProjector moves balances.
type TransactionCommandService struct {
	accounts  form.AccountLookup
	writeRepo TransactionWriter
	views     TransactionViewCacher
	logger    *zap.Logger
	now       func() time.Time
}

func NewTransactionCommandService(
	accounts form.AccountLookup,
	writeRepo TransactionWriter,
	views TransactionViewCacher,
	logger *zap.Logger,
) *TransactionCommandService {
	return &TransactionCommandService{
		accounts:  accounts,
		writeRepo: writeRepo,
		views:     views,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *TransactionCommandService) CreateTransaction(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.Transaction, error) {
	account, err := s.accounts.GetAccount(ctx, cmd.AccountNo)
	if err != nil {
		return nil, err
	}
	if account.UserID != cmd.UserID {
		return nil, models.ErrForbidden
	}

	transaction, err := form.Validate(ctx, s.accounts, account, form.Submission{
		Type:      cmd.Type,
		Amount:    cmd.Amount,
		AccountNo: cmd.DestinationAccountNo,
	})
	if err != nil {
		var verr *form.ValidationError
		if errors.As(err, &verr) {
			s.logger.Debug("transaction rejected",
				zap.Int64("account_no", cmd.AccountNo),
				zap.String("type", string(cmd.Type)),
				zap.String("field", verr.Field),
				zap.String("reason", verr.Message),
			)
		}
		return nil, err
	}

	transaction.ID = utils.GenerateID(utils.TransactionIDPrefix)
	transaction.UserID = cmd.UserID
	transaction.CreatedAt = s.now()

	created := outbox.Event{
		Stream: events.TransactionEventsStream,
		Type:   events.TransactionCreated,
		Data: events.TransactionCreatedEvent{
			TransactionID:        transaction.ID,
			AccountNo:            transaction.AccountNo,
			UserID:               transaction.UserID,
			Type:                 string(transaction.Type),
			Amount:               transaction.Amount,
			DestinationAccountNo: transaction.DestinationAccountNo,
		},
	}
	if err := s.writeRepo.Create(ctx, transaction, created); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	s.views.CacheTransactionView(ctx, models.NewTransactionView(transaction))

	s.logger.Info("transaction created",
		zap.String("transaction_id", transaction.ID),
		zap.Int64("account_no", transaction.AccountNo),
		zap.String("type", string(transaction.Type)),
		zap.Stringer("amount", transaction.Amount),
	)
	return transaction, nil
}
