// Package reconcile recomputes the derived ledgers from the transaction log
// and reports rows that disagree with it. It never repairs anything.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/duka-ledger/duka/internal/ledger"
)

// Ledger names of a drift.
const (
	LedgerInventory = "inventory"
	LedgerCredit    = "credit"
)

// Drift is one derived row that disagrees with the transaction log.
type Drift struct {
	Owner    string `json:"owner"`
	Ledger   string `json:"ledger"`
	Key      string `json:"key"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Report summarises a reconciliation run.
type Report struct {
	Owners int     `json:"owners"`
	Drifts []Drift `json:"drifts"`
}

// Checker folds transaction effects and compares them with stored balances.
type Checker struct {
	store       ledger.SnapshotPort
	logger      *slog.Logger
	concurrency int
}

// NewChecker constructs a Checker checking up to concurrency owners at once.
func NewChecker(store ledger.SnapshotPort, logger *slog.Logger, concurrency int) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Checker{store: store, logger: logger, concurrency: concurrency}
}

// Check reconciles every owner.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	var owners []string
	err := c.store.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		owners, err = r.Owners(ctx)
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: list owners: %w", err)
	}

	var (
		mu     sync.Mutex
		drifts []Drift
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			found, err := c.CheckOwner(gctx, owner)
			if err != nil {
				return err
			}
			mu.Lock()
			drifts = append(drifts, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	sort.Slice(drifts, func(i, j int) bool {
		a, b := drifts[i], drifts[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Ledger != b.Ledger {
			return a.Ledger < b.Ledger
		}
		return a.Key < b.Key
	})
	return Report{Owners: len(owners), Drifts: drifts}, nil
}

// CheckOwner reconciles one owner inside a single snapshot.
func (c *Checker) CheckOwner(ctx context.Context, owner string) ([]Drift, error) {
	var (
		txns    []ledger.Transaction
		items   []ledger.InventoryItem
		entries []ledger.CreditEntry
	)
	err := c.store.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		if txns, err = r.Transactions(ctx, owner); err != nil {
			return err
		}
		if items, err = r.Inventory(ctx, owner); err != nil {
			return err
		}
		entries, err = r.CreditLedger(ctx, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: read owner %q: %w", owner, err)
	}

	stock := map[string]int64{}
	credit := map[string]decimal.Decimal{}
	for _, t := range txns {
		e := t.Effects()
		if e.Stock {
			stock[t.Product] += e.StockDelta
		}
		if e.Credit {
			credit[t.Customer] = credit[t.Customer].Add(e.CreditDelta)
		}
	}

	var drifts []Drift
	for _, item := range items {
		expected := stock[item.Product]
		delete(stock, item.Product)
		if expected != item.Quantity {
			drifts = append(drifts, Drift{Owner: owner, Ledger: LedgerInventory, Key: item.Product,
				Expected: fmt.Sprint(expected), Actual: fmt.Sprint(item.Quantity)})
		}
	}
	for product, expected := range stock {
		if expected != 0 {
			drifts = append(drifts, Drift{Owner: owner, Ledger: LedgerInventory, Key: product,
				Expected: fmt.Sprint(expected), Actual: "missing"})
		}
	}
	for _, entry := range entries {
		expected := credit[entry.Customer]
		delete(credit, entry.Customer)
		if !expected.Equal(entry.Balance) {
			drifts = append(drifts, Drift{Owner: owner, Ledger: LedgerCredit, Key: entry.Customer,
				Expected: expected.String(), Actual: entry.Balance.String()})
		}
	}
	for customer, expected := range credit {
		if !expected.IsZero() {
			drifts = append(drifts, Drift{Owner: owner, Ledger: LedgerCredit, Key: customer,
				Expected: expected.String(), Actual: "missing"})
		}
	}

	for _, d := range drifts {
		c.logger.Warn("ledger drift detected",
			slog.String("owner", d.Owner),
			slog.String("ledger", d.Ledger),
			slog.String("key", d.Key),
			slog.String("expected", d.Expected),
			slog.String("actual", d.Actual))
	}
	return drifts, nil
}
