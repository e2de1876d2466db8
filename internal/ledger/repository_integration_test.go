package ledger_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/duka-ledger/duka/internal/ledger"
	"github.com/duka-ledger/duka/internal/platform/db"
)

func newPostgresRepository(t *testing.T) *ledger.Repository {
	t.Helper()
	dsn := os.Getenv("DUKA_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DUKA_TEST_PG_DSN not set")
	}
	pool, err := db.New(context.Background(), dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)
	return ledger.NewRepository(pool)
}

func readStock(t *testing.T, repo *ledger.Repository, owner, product string) int64 {
	t.Helper()
	var qty int64
	err := repo.WithSnapshot(context.Background(), func(ctx context.Context, r ledger.Reader) error {
		items, err := r.Inventory(ctx, owner)
		for _, item := range items {
			if item.Product == product {
				qty = item.Quantity
			}
		}
		return err
	})
	require.NoError(t, err)
	return qty
}

func TestPostgresConcurrentApply(t *testing.T) {
	repo := newPostgresRepository(t)
	svc := ledger.NewService(repo, nil, nil)
	owner := "it-" + uuid.NewString()
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), owner, ledger.Candidate{
				Kind: ledger.KindPurchase, Product: "soda", Quantity: 1, Amount: dec("1500"),
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(n), readStock(t, repo, owner, "soda"))
}

func TestPostgresRollbackLeavesNoRows(t *testing.T) {
	repo := newPostgresRepository(t)
	owner := "it-" + uuid.NewString()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := tx.InsertTransaction(ctx, ledger.Transaction{Owner: owner, Kind: ledger.KindPurchase, Product: "milk", Quantity: 5, Customer: ledger.WalkIn, Settlement: ledger.SettlementCash}); err != nil {
			return err
		}
		if err := tx.AdjustInventory(ctx, owner, "milk", 5, dec("2000")); err != nil {
			return err
		}
		return ledger.ErrInvalidCandidate
	})
	require.ErrorIs(t, err, ledger.ErrInvalidCandidate)

	err = repo.WithSnapshot(context.Background(), func(ctx context.Context, r ledger.Reader) error {
		txns, err := r.Transactions(ctx, owner)
		require.NoError(t, err)
		require.Empty(t, txns)
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, readStock(t, repo, owner, "milk"))
}

func TestPostgresReturnsStoredAmount(t *testing.T) {
	repo := newPostgresRepository(t)
	svc := ledger.NewService(repo, nil, nil)
	owner := "it-" + uuid.NewString()

	txn, err := svc.Apply(context.Background(), owner, ledger.Candidate{
		Kind: ledger.KindSale, Product: "soda", Quantity: 3, Amount: dec("4500.005"),
	})
	require.NoError(t, err)

	var stored ledger.Transaction
	err = repo.WithSnapshot(context.Background(), func(ctx context.Context, r ledger.Reader) error {
		recent, err := r.RecentTransactions(ctx, owner, 1)
		if len(recent) == 1 {
			stored = recent[0]
		}
		return err
	})
	require.NoError(t, err)
	require.Equal(t, txn.ID, stored.ID)
	require.True(t, txn.Amount.Equal(stored.Amount), "returned %s stored %s", txn.Amount, stored.Amount)
}

func TestPostgresBalanceOverflowIsInvalidCandidate(t *testing.T) {
	repo := newPostgresRepository(t)
	svc := ledger.NewService(repo, nil, nil)
	owner := "it-" + uuid.NewString()
	sale := ledger.Candidate{
		Kind: ledger.KindSale, Customer: "Grace", Settlement: ledger.SettlementCredit, Amount: ledger.MaxAmount,
	}

	_, err := svc.Apply(context.Background(), owner, sale)
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), owner, sale)
	require.ErrorIs(t, err, ledger.ErrInvalidCandidate)
	require.False(t, ledger.IsRetryable(err))
}
