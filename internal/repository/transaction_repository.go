package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"

	"github.com/eaglebank/teller/shared/models"
	"github.com/eaglebank/teller/shared/outbox"
)

// TransactionWriteRepository persists transactions on the primary database.
// Transactions are insert-only.
type TransactionWriteRepository struct {
	db     dbresolver.DB
	outbox *outbox.PostgresStore
}

func NewTransactionWriteRepository(db dbresolver.DB, store *outbox.PostgresStore) *TransactionWriteRepository {
	return &TransactionWriteRepository{db: db, outbox: store}
}

// Create inserts transaction and enqueues event in one database transaction,
// so the event is published if and only if the row exists.
func (r *TransactionWriteRepository) Create(ctx context.Context, transaction *models.Transaction, event outbox.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction insert: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_no, user_id, type, amount, balance_after_transaction, destination_account_no, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		transaction.ID, transaction.AccountNo, transaction.UserID,
		string(transaction.Type), transaction.Amount, transaction.BalanceAfterTransaction,
		nullInt64(transaction.DestinationAccountNo), transaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := r.outbox.Enqueue(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction insert: %w", err)
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
