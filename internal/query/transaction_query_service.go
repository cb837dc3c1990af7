package query

import (
	"context"
	"fmt"

	"github.com/eaglebank/teller/shared/cqrs"
	"github.com/eaglebank/teller/shared/models"
)

type AccountReader interface {
	GetAccount(ctx context.Context, accountNo int64) (*models.Account, error)
}

type TransactionReader interface {
	GetByID(ctx context.Context, id string, accountNo int64) (*models.TransactionView, error)
	ListByAccountNo(ctx context.Context, accountNo int64, typ models.TransactionType) ([]models.TransactionView, error)
}

// TransactionQueryService serves transaction reads. Ownership is always checked
// against the account cache before returning results.
type TransactionQueryService struct {
	readRepo TransactionReader
	accounts AccountReader
}

func NewTransactionQueryService(readRepo TransactionReader, accounts AccountReader) *TransactionQueryService {
	return &TransactionQueryService{readRepo: readRepo, accounts: accounts}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	if err := s.checkOwner(ctx, q.AccountNo, q.UserID); err != nil {
		return nil, err
	}
	return s.readRepo.GetByID(ctx, q.TransactionID, q.AccountNo)
}

// ListTransactions returns the account's transactions, newest first.
func (s *TransactionQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.TransactionView, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q: %w", q.Type, ErrInvalidFilter)
	}
	if err := s.checkOwner(ctx, q.AccountNo, q.UserID); err != nil {
		return nil, err
	}
	return s.readRepo.ListByAccountNo(ctx, q.AccountNo, q.Type)
}

func (s *TransactionQueryService) checkOwner(ctx context.Context, accountNo int64, userID string) error {
	account, err := s.accounts.GetAccount(ctx, accountNo)
	if err != nil {
		return err
	}
	if account.UserID != userID {
		return models.ErrForbidden
	}
	return nil
}
