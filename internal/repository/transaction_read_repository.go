package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eaglebank/teller/shared/models"
	sharedredis "github.com/eaglebank/teller/shared/redis"
)

const transactionViewKeyPrefix = "transaction:view:"

// transactionViewTTL bounds how long a view written concurrently with its
// settlement can stay stale.
const transactionViewTTL = 5 * time.Minute

// TransactionReadRepository handles all read operations for transactions.
// It uses Redis as the primary read store, falling back to PostgreSQL on a miss.
type TransactionReadRepository struct {
	db    dbresolver.DB
	cache *sharedredis.ViewCache[models.TransactionView]
}

func NewTransactionReadRepository(db dbresolver.DB, redisClient *goredis.Client, logger *zap.Logger) *TransactionReadRepository {
	return &TransactionReadRepository{
		db:    db,
		cache: sharedredis.NewViewCache[models.TransactionView](redisClient, transactionViewKeyPrefix, transactionViewTTL, logger),
	}
}

// Transactions without a settlement are still pending.
const selectTransactionColumns = `
	SELECT t.id, t.account_no, t.user_id, t.type, t.amount, t.balance_after_transaction,
		t.destination_account_no, COALESCE(s.outcome, 'pending'), t.created_at
	FROM transactions t
	LEFT JOIN transaction_settlements s ON s.transaction_id = t.id
`

// GetByID returns a TransactionView by attempting Redis first, then PostgreSQL.
func (r *TransactionReadRepository) GetByID(ctx context.Context, id string, accountNo int64) (*models.TransactionView, error) {
	return r.cache.Load(ctx, transactionID(accountNo, id), func(ctx context.Context) (*models.TransactionView, error) {
		row := r.db.QueryRowContext(ctx, selectTransactionColumns+`WHERE t.id = $1 AND t.account_no = $2`, id, accountNo)
		view, err := scanTransactionView(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, models.ErrTransactionNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction: %w", err)
		}
		return view, nil
	})
}

// ListByAccountNo returns the account's transactions from PostgreSQL, newest
// first. An empty typ lists every type.
func (r *TransactionReadRepository) ListByAccountNo(ctx context.Context, accountNo int64, typ models.TransactionType) ([]models.TransactionView, error) {
	query := selectTransactionColumns + `
		WHERE t.account_no = $1 AND ($2 = '' OR t.type = $2)
		ORDER BY t.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, accountNo, string(typ))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	views := []models.TransactionView{}
	for rows.Next() {
		view, err := scanTransactionView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return views, nil
}

// CacheTransactionView stores the read model for a transaction in Redis.
// Called by the command service immediately after a successful Create.
func (r *TransactionReadRepository) CacheTransactionView(ctx context.Context, view *models.TransactionView) {
	r.cache.Set(ctx, transactionID(view.AccountNo, view.ID), view)
}

// InvalidateTransaction drops the cached view once the transaction settles.
func (r *TransactionReadRepository) InvalidateTransaction(ctx context.Context, accountNo int64, id string) {
	r.cache.Delete(ctx, transactionID(accountNo, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionView(row rowScanner) (*models.TransactionView, error) {
	var view models.TransactionView
	var typ, status string
	var destination sql.NullInt64

	if err := row.Scan(
		&view.ID, &view.AccountNo, &view.UserID, &typ,
		&view.Amount, &view.BalanceAfterTransaction, &destination, &status, &view.CreatedAt,
	); err != nil {
		return nil, err
	}
	view.Type = models.TransactionType(typ)
	view.Status = models.TransactionStatus(status)
	if destination.Valid {
		no := destination.Int64
		view.DestinationAccountNo = &no
	}
	return &view, nil
}

// Transaction views are scoped by account so a lookup through the wrong
// account misses.
func transactionID(accountNo int64, id string) string {
	return fmt.Sprintf("%d:%s", accountNo, id)
}
