package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duka-ledger/duka/internal/ledger"
	"github.com/duka-ledger/duka/internal/ledger/ledgertest"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) LedgerApply(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[kind+":"+outcome]++
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyCreditSaleUpdatesStockAndCredit(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)
	ctx := context.Background()

	txn, err := svc.Apply(ctx, "shop-1", ledger.Candidate{
		Kind: ledger.KindSale, Product: "soda", Quantity: 3, Customer: "Grace",
		Settlement: ledger.SettlementCredit, Amount: dec("4500"), UnitPrice: dec("1500"),
	})
	require.NoError(t, err)
	require.NotZero(t, txn.ID)
	require.Equal(t, "shop-1", txn.Owner)
	require.False(t, txn.OccurredAt.IsZero())

	stock, ok := store.Stock("shop-1", "soda")
	require.True(t, ok)
	require.Equal(t, int64(-3), stock)

	balance, ok := store.Balance("shop-1", "Grace")
	require.True(t, ok)
	require.True(t, balance.Equal(dec("4500")), balance.String())
}

func TestApplyPurchaseHasNoCreditEffect(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)

	_, err := svc.Apply(context.Background(), "shop-1", ledger.Candidate{
		Kind: ledger.KindPurchase, Product: "bread", Quantity: 10, Customer: "Supplier",
		Settlement: ledger.SettlementCash, Amount: dec("25000"),
	})
	require.NoError(t, err)

	stock, _ := store.Stock("shop-1", "bread")
	require.Equal(t, int64(10), stock)
	_, ok := store.Balance("shop-1", "Supplier")
	require.False(t, ok)
}

func TestApplyPaymentWithoutPriorSaleGoesNegative(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)

	_, err := svc.Apply(context.Background(), "shop-1", ledger.Candidate{
		Kind: ledger.KindPayment, Customer: "James",
		Settlement: ledger.SettlementCredit, Amount: dec("2000"),
	})
	require.NoError(t, err)

	balance, ok := store.Balance("shop-1", "James")
	require.True(t, ok)
	require.True(t, balance.Equal(dec("-2000")), balance.String())
}

func TestApplyCashPaymentAndUnknownProductTouchNothing(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.Apply(ctx, "shop-1", ledger.Candidate{Kind: ledger.KindPayment, Customer: "Mary", Settlement: ledger.SettlementCash, Amount: dec("100")})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "shop-1", ledger.Candidate{Kind: ledger.KindSale, Quantity: 2, Amount: dec("3000")})
	require.NoError(t, err)

	require.Equal(t, 2, store.TransactionCount())
	_, ok := store.Balance("shop-1", "Mary")
	require.False(t, ok)
	_, ok = store.Balance("shop-1", ledger.WalkIn)
	require.False(t, ok)
}

func TestApplyDefaultsAndValidation(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)
	ctx := context.Background()

	txn, err := svc.Apply(ctx, "shop-1", ledger.Candidate{Kind: ledger.KindSale, Product: " Soda ", Quantity: 1, Amount: dec("1500")})
	require.NoError(t, err)
	assert.Equal(t, ledger.WalkIn, txn.Customer)
	assert.Equal(t, ledger.SettlementCash, txn.Settlement)
	assert.Equal(t, "soda", txn.Product)

	cases := map[string]struct {
		owner     string
		candidate ledger.Candidate
	}{
		"missing owner":        {"", ledger.Candidate{Kind: ledger.KindSale}},
		"unknown kind":         {"shop-1", ledger.Candidate{Kind: "refund"}},
		"unknown settlement":   {"shop-1", ledger.Candidate{Kind: ledger.KindSale, Settlement: "barter"}},
		"negative quantity":    {"shop-1", ledger.Candidate{Kind: ledger.KindSale, Quantity: -1}},
		"negative amount":      {"shop-1", ledger.Candidate{Kind: ledger.KindSale, Amount: dec("-1")}},
		"quantity too large":   {"shop-1", ledger.Candidate{Kind: ledger.KindPurchase, Product: "soda", Quantity: ledger.MaxQuantity + 1}},
		"amount too large":     {"shop-1", ledger.Candidate{Kind: ledger.KindSale, Amount: dec("10000000000000000")}},
		"unit price too large": {"shop-1", ledger.Candidate{Kind: ledger.KindSale, Product: "soda", Quantity: 1, UnitPrice: dec("29999999999997000")}},
		"rejected by parser":   {"shop-1", ledger.Candidate{Kind: ledger.KindSale, Rejected: "number 99999999999999999999 is out of range"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Apply(ctx, tc.owner, tc.candidate)
			require.ErrorIs(t, err, ledger.ErrInvalidCandidate)
			assert.False(t, ledger.IsRetryable(err))
		})
	}
	require.Equal(t, 1, store.TransactionCount())
}

func TestApplyAcceptsLargestStorableAmount(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)

	txn, err := svc.Apply(context.Background(), "shop-1", ledger.Candidate{
		Kind: ledger.KindSale, Quantity: ledger.MaxQuantity, Amount: ledger.MaxAmount,
	})
	require.NoError(t, err)
	assert.Equal(t, "9999999999999999.99", txn.Amount.String())
}

func TestApplyRoundsMoneyToStoredScale(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)

	txn, err := svc.Apply(context.Background(), "shop-1", ledger.Candidate{
		Kind: ledger.KindSale, Product: "soda", Quantity: 3, Customer: "Grace",
		Settlement: ledger.SettlementCredit, Amount: dec("10.005"), UnitPrice: dec("3.335"),
	})
	require.NoError(t, err)
	assert.Equal(t, "10.01", txn.Amount.StringFixed(2))
	assert.True(t, txn.Amount.Equal(dec("10.01")))

	balance, ok := store.Balance("shop-1", "Grace")
	require.True(t, ok)
	assert.True(t, balance.Equal(txn.Amount), balance.String())
}

func TestCanonicalCustomer(t *testing.T) {
	cases := map[string]string{
		"grace":       "Grace",
		"  GRACE ":    "Grace",
		"mary   jane": "Mary Jane",
		"":            ledger.WalkIn,
		"   ":         ledger.WalkIn,
		"Walk-In":     ledger.WalkIn,
		ledger.WalkIn: ledger.WalkIn,
		"Supplier":    "Supplier",
	}
	for in, want := range cases {
		assert.Equal(t, want, ledger.CanonicalCustomer(in), in)
	}
}

func TestApplyIsAtomicOnFault(t *testing.T) {
	boom := errors.New("disk on fire")
	for _, op := range []string{ledgertest.OpInsert, ledgertest.OpInventory, ledgertest.OpCredit, ledgertest.OpCommit} {
		t.Run(op, func(t *testing.T) {
			store := ledgertest.New()
			svc := ledger.NewService(store, nil, nil)
			ctx := context.Background()

			_, err := svc.Apply(ctx, "shop-1", ledger.Candidate{
				Kind: ledger.KindSale, Product: "cake", Quantity: 1, Customer: "Grace",
				Settlement: ledger.SettlementCredit, Amount: dec("3000"),
			})
			require.NoError(t, err)

			store.Fault = func(got string) error {
				if got == op {
					return boom
				}
				return nil
			}
			_, err = svc.Apply(ctx, "shop-1", ledger.Candidate{
				Kind: ledger.KindSale, Product: "cake", Quantity: 2, Customer: "Grace",
				Settlement: ledger.SettlementCredit, Amount: dec("6000"),
			})
			require.ErrorIs(t, err, boom)

			require.Equal(t, 1, store.TransactionCount())
			stock, _ := store.Stock("shop-1", "cake")
			require.Equal(t, int64(-1), stock)
			balance, _ := store.Balance("shop-1", "Grace")
			require.True(t, balance.Equal(dec("3000")), balance.String())
		})
	}
}

func TestApplyCancelledBeforeCommitLeavesNoTrace(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	store.Fault = func(op string) error {
		if op == ledgertest.OpCredit {
			cancel()
		}
		return nil
	}

	_, err := svc.Apply(ctx, "shop-1", ledger.Candidate{
		Kind: ledger.KindSale, Product: "milk", Quantity: 1, Customer: "Mary",
		Settlement: ledger.SettlementCredit, Amount: dec("2000"),
	})
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	require.True(t, ledger.IsRetryable(err))
	require.Equal(t, 0, store.TransactionCount())
	_, ok := store.Stock("shop-1", "milk")
	require.False(t, ok)
}

func TestApplyConcurrentPurchasesDoNotLoseUpdates(t *testing.T) {
	store := ledgertest.New()
	recorder := &countingRecorder{}
	svc := ledger.NewService(store, nil, recorder)
	const n = 64

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), "shop-1", ledger.Candidate{
				Kind: ledger.KindPurchase, Product: "sugar", Quantity: 1, Settlement: ledger.SettlementCash, Amount: dec("4500"),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stock, _ := store.Stock("shop-1", "sugar")
	require.Equal(t, int64(n), stock)
	require.Equal(t, n, recorder.outcomes["purchase:applied"])
}

func TestApplyKeepsLedgersConsistentWithLog(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, nil, nil)
	ctx := context.Background()

	candidates := []ledger.Candidate{
		{Kind: ledger.KindPurchase, Product: "soda", Quantity: 24, Amount: dec("36000")},
		{Kind: ledger.KindSale, Product: "soda", Quantity: 3, Customer: "Grace", Settlement: ledger.SettlementCredit, Amount: dec("4500")},
		{Kind: ledger.KindSale, Product: "soda", Quantity: 5, Amount: dec("7500")},
		{Kind: ledger.KindPayment, Customer: "Grace", Settlement: ledger.SettlementCredit, Amount: dec("2000")},
		{Kind: ledger.KindSale, Product: "bread", Quantity: 2, Customer: "Grace", Settlement: ledger.SettlementCredit, Amount: dec("5000")},
	}
	for _, c := range candidates {
		_, err := svc.Apply(ctx, "shop-1", c)
		require.NoError(t, err)
	}
	// A different owner never leaks into shop-1.
	_, err := svc.Apply(ctx, "shop-2", ledger.Candidate{Kind: ledger.KindSale, Product: "soda", Quantity: 100, Customer: "Grace", Settlement: ledger.SettlementCredit, Amount: dec("1")})
	require.NoError(t, err)

	stock, _ := store.Stock("shop-1", "soda")
	require.Equal(t, int64(24-3-5), stock)
	bread, _ := store.Stock("shop-1", "bread")
	require.Equal(t, int64(-2), bread)
	balance, _ := store.Balance("shop-1", "Grace")
	require.True(t, balance.Equal(dec("7500")), balance.String())
}

func TestOutcomeLabels(t *testing.T) {
	require.Equal(t, "applied", ledger.Outcome(nil))
	require.Equal(t, "conflict", ledger.Outcome(ledger.ErrConflict))
	require.Equal(t, "unknown", ledger.Outcome(ledger.ErrOutcomeUnknown))
	require.False(t, ledger.IsRetryable(ledger.ErrOutcomeUnknown))
	require.True(t, ledger.IsRetryable(ledger.ErrConflict))
}
