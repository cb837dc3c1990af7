package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eaglebank/teller/shared/models"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// With a warm cache the database is never consulted, so a nil resolver is safe.
func TestAccountRepository_GetAccountFromCache(t *testing.T) {
	_, client := setupRedis(t)
	repo := NewAccountRepository(nil, client, time.Minute, zap.NewNop())
	ctx := context.Background()

	repo.CacheAccount(ctx, &models.Account{
		AccountNo: 1001,
		UserID:    "usr-1",
		Balance:   decimal.RequireFromString("250.75"),
	})

	account, err := repo.GetAccount(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), account.AccountNo)
	assert.Equal(t, "usr-1", account.UserID)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("250.75")))
}

func TestAccountRepository_CacheExpires(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewAccountRepository(nil, client, time.Minute, zap.NewNop())
	ctx := context.Background()

	repo.CacheAccount(ctx, &models.Account{AccountNo: 7, Balance: decimal.NewFromInt(1)})
	assert.True(t, mr.Exists(accountViewKeyPrefix + "7"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(accountViewKeyPrefix + "7"))
}

func TestAccountRepository_InvalidateAccount(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewAccountRepository(nil, client, time.Minute, zap.NewNop())
	ctx := context.Background()

	repo.CacheAccount(ctx, &models.Account{AccountNo: 42, Balance: decimal.NewFromInt(10)})
	repo.InvalidateAccount(ctx, 42)

	assert.False(t, mr.Exists(accountViewKeyPrefix + "42"))
}

func TestAccountRepository_ProcessedMarkers(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewAccountRepository(nil, client, time.Minute, zap.NewNop())
	ctx := context.Background()

	assert.False(t, repo.IsTransactionProcessed(ctx, "tan-0000000001"))

	repo.MarkTransactionProcessed(ctx, "tan-0000000001")
	assert.True(t, repo.IsTransactionProcessed(ctx, "tan-0000000001"))
	assert.False(t, repo.IsTransactionProcessed(ctx, "tan-0000000002"))

	mr.FastForward(processedTxnTTL + time.Second)
	assert.False(t, repo.IsTransactionProcessed(ctx, "tan-0000000001"))
}

func TestTransactionReadRepository_GetByIDFromCache(t *testing.T) {
	_, client := setupRedis(t)
	repo := NewTransactionReadRepository(nil, client, zap.NewNop())
	ctx := context.Background()

	destination := int64(2002)
	repo.CacheTransactionView(ctx, &models.TransactionView{
		ID:                   "tan-00000000ab",
		AccountNo:            1001,
		Type:                 models.TransactionTransfer,
		Amount:               decimal.NewFromInt(40),
		DestinationAccountNo: &destination,
	})

	view, err := repo.GetByID(ctx, "tan-00000000ab", 1001)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTransfer, view.Type)
	require.NotNil(t, view.DestinationAccountNo)
	assert.Equal(t, destination, *view.DestinationAccountNo)
}

func TestTransactionID_ScopedByAccount(t *testing.T) {
	assert.NotEqual(t, transactionID(1, "tan-000000000x"), transactionID(2, "tan-000000000x"))
}

func TestTransactionReadRepository_InvalidateTransaction(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewTransactionReadRepository(nil, client, zap.NewNop())
	ctx := context.Background()

	repo.CacheTransactionView(ctx, &models.TransactionView{ID: "tan-00000000cd", AccountNo: 1001, Status: models.TransactionPending})
	key := transactionViewKeyPrefix + transactionID(1001, "tan-00000000cd")
	require.True(t, mr.Exists(key))
	assert.Equal(t, transactionViewTTL, mr.TTL(key))

	view, err := repo.GetByID(ctx, "tan-00000000cd", 1001)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, view.Status)

	repo.InvalidateTransaction(ctx, 1001, "tan-00000000cd")
	assert.False(t, mr.Exists(key))
}
