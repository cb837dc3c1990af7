package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eaglebank/teller/shared/models"
	sharedredis "github.com/eaglebank/teller/shared/redis"
)

// foreignKeyViolation is the Postgres SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

const (
	accountViewKeyPrefix  = "account:view:"
	processedTxnKeyPrefix = "processed:txn:"
	processedTxnTTL       = 72 * time.Hour
)

// AccountRepository reads accounts through a Redis read model backed by
// PostgreSQL. It moves balances with compare-and-swap updates so a balance
// can never go negative under concurrent writers, and settles each
// transaction at most once.
type AccountRepository struct {
	db     dbresolver.DB
	redis  *goredis.Client
	cache  *sharedredis.ViewCache[models.AccountView]
	logger *zap.Logger
}

func NewAccountRepository(db dbresolver.DB, redisClient *goredis.Client, cacheTTL time.Duration, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		redis:  redisClient,
		cache:  sharedredis.NewViewCache[models.AccountView](redisClient, accountViewKeyPrefix, cacheTTL, logger),
		logger: logger,
	}
}

// GetAccount returns the account, trying Redis first then PostgreSQL.
// Unknown accounts yield an error wrapping models.ErrAccountNotFound.
func (r *AccountRepository) GetAccount(ctx context.Context, accountNo int64) (*models.Account, error) {
	view, err := r.cache.Load(ctx, accountID(accountNo), func(ctx context.Context) (*models.AccountView, error) {
		return r.loadAccount(ctx, accountNo)
	})
	if err != nil {
		return nil, err
	}
	return view.ToAccount(), nil
}

func (r *AccountRepository) loadAccount(ctx context.Context, accountNo int64) (*models.AccountView, error) {
	var view models.AccountView
	err := r.db.QueryRowContext(ctx, `
		SELECT account_no, user_id, balance, updated_at
		FROM accounts
		WHERE account_no = $1
	`, accountNo).Scan(&view.AccountNo, &view.UserID, &view.Balance, &view.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountNo, models.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &view, nil
}

// CacheAccount stores or refreshes the read model for an account.
func (r *AccountRepository) CacheAccount(ctx context.Context, account *models.Account) {
	r.cache.Set(ctx, accountID(account.AccountNo), &models.AccountView{
		AccountNo: account.AccountNo,
		UserID:    account.UserID,
		Balance:   account.Balance,
		UpdatedAt: account.UpdatedAt,
	})
}

// InvalidateAccount drops the read model so the next read hits PostgreSQL.
func (r *AccountRepository) InvalidateAccount(ctx context.Context, accountNo int64) {
	r.cache.Delete(ctx, accountID(accountNo))
}

// Credit adds amount to the account balance and settles transactionID as
// completed, in one database transaction.
func (r *AccountRepository) Credit(ctx context.Context, transactionID string, accountNo int64, amount decimal.Decimal) error {
	return r.settle(ctx, transactionID, models.TransactionCompleted, "", func(tx dbresolver.Tx) error {
		return credit(ctx, tx, accountNo, amount)
	})
}

// Debit subtracts amount only if the balance covers it.
func (r *AccountRepository) Debit(ctx context.Context, transactionID string, accountNo int64, amount decimal.Decimal) error {
	return r.settle(ctx, transactionID, models.TransactionCompleted, "", func(tx dbresolver.Tx) error {
		return debit(ctx, tx, accountNo, amount)
	})
}

// Transfer debits from and credits to in one database transaction.
func (r *AccountRepository) Transfer(ctx context.Context, transactionID string, from, to int64, amount decimal.Decimal) error {
	return r.settle(ctx, transactionID, models.TransactionCompleted, "", func(tx dbresolver.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		return credit(ctx, tx, to, amount)
	})
}

// Complete settles a transaction that moves no balance.
func (r *AccountRepository) Complete(ctx context.Context, transactionID string) error {
	return r.settle(ctx, transactionID, models.TransactionCompleted, "", nil)
}

// Reject settles a transaction whose effect could not be applied.
func (r *AccountRepository) Reject(ctx context.Context, transactionID, reason string) error {
	return r.settle(ctx, transactionID, models.TransactionRejected, reason, nil)
}

// settle records the outcome of transactionID and runs move in the same
// database transaction. A second settlement of the same transaction fails
// with models.ErrTransactionSettled and moves nothing, even when both race.
func (r *AccountRepository) settle(ctx context.Context, transactionID string, outcome models.TransactionStatus, reason string, move func(tx dbresolver.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO transaction_settlements (transaction_id, outcome, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id) DO NOTHING
	`, transactionID, string(outcome), reason)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("transaction %s: %w", transactionID, models.ErrTransactionNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to record settlement: %w", err)
	}
	if err := expectOneRow(result, fmt.Errorf("transaction %s: %w", transactionID, models.ErrTransactionSettled)); err != nil {
		return err
	}

	if move != nil {
		if err := move(tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

func credit(ctx context.Context, tx dbresolver.Tx, accountNo int64, amount decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE account_no = $2
	`, amount, accountNo)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("account %d: %w", accountNo, models.ErrAccountNotFound))
}

func debit(ctx context.Context, tx dbresolver.Tx, accountNo int64, amount decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE account_no = $2 AND balance >= $1
	`, amount, accountNo)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	if err := expectOneRow(result, models.ErrInsufficientFunds); err != nil {
		return explainMiss(ctx, tx, accountNo, err)
	}
	return nil
}

// explainMiss tells a missing account apart from an uncovered debit.
func explainMiss(ctx context.Context, tx dbresolver.Tx, accountNo int64, miss error) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_no = $1)`, accountNo).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return fmt.Errorf("account %d: %w", accountNo, models.ErrAccountNotFound)
	}
	return miss
}

// IsTransactionProcessed reports whether a processed marker exists for the
// transaction. Markers only save a database round trip on redelivery; the
// settlement record is what prevents a second balance move.
func (r *AccountRepository) IsTransactionProcessed(ctx context.Context, transactionID string) bool {
	val, err := r.redis.Exists(ctx, processedTxnKeyPrefix+transactionID).Result()
	return err == nil && val > 0
}

// MarkTransactionProcessed records that a transaction's effect has been applied.
func (r *AccountRepository) MarkTransactionProcessed(ctx context.Context, transactionID string) {
	key := processedTxnKeyPrefix + transactionID
	if err := r.redis.Set(ctx, key, "1", processedTxnTTL).Err(); err != nil {
		r.logger.Warn("failed to mark transaction processed", zap.String("transaction_id", transactionID), zap.Error(err))
	}
}

func accountID(accountNo int64) string {
	return strconv.FormatInt(accountNo, 10)
}

func expectOneRow(result sql.Result, miss error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return miss
	}
	return nil
}
