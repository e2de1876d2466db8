package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/duka-ledger/duka/internal/ledger"
)

const (
	// TopProductsLimit caps Summary.TopProducts.
	TopProductsLimit = 5
	// RecentLimit caps Summary.RecentTransactions.
	RecentLimit = 10
)

// DefaultMargin is the gross margin applied to cash revenue.
var DefaultMargin = decimal.NewFromFloat(0.20)

// ErrMissingOwner is returned when no owner scopes the query.
var ErrMissingOwner = errors.New("dashboard: owner required")

// Summary aggregates one owner's ledgers.
type Summary struct {
	Revenue            decimal.Decimal       `json:"revenue"`
	EstimatedProfit    decimal.Decimal       `json:"estimated_profit"`
	OutstandingCredit  decimal.Decimal       `json:"outstanding_credit"`
	TopProducts        []ledger.ProductSales `json:"top_products"`
	RecentTransactions []ledger.Transaction  `json:"recent_transactions"`
}

// Service computes read models over a consistent snapshot.
type Service struct {
	store  ledger.SnapshotPort
	margin decimal.Decimal
}

// NewService constructs the aggregator. A negative margin falls back to DefaultMargin.
func NewService(store ledger.SnapshotPort, margin decimal.Decimal) *Service {
	if margin.IsNegative() {
		margin = DefaultMargin
	}
	return &Service{store: store, margin: margin}
}

// Summary returns revenue, profit estimate, credit outstanding, best sellers
// and latest activity, all read from the same snapshot.
func (s *Service) Summary(ctx context.Context, owner string) (Summary, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Summary{}, ErrMissingOwner
	}
	var out Summary
	err := s.store.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		if out.Revenue, err = r.CashSalesRevenue(ctx, owner); err != nil {
			return fmt.Errorf("dashboard: revenue: %w", err)
		}
		if out.OutstandingCredit, err = r.OutstandingCredit(ctx, owner); err != nil {
			return fmt.Errorf("dashboard: outstanding credit: %w", err)
		}
		if out.TopProducts, err = r.TopProducts(ctx, owner, TopProductsLimit); err != nil {
			return fmt.Errorf("dashboard: top products: %w", err)
		}
		if out.RecentTransactions, err = r.RecentTransactions(ctx, owner, RecentLimit); err != nil {
			return fmt.Errorf("dashboard: recent transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	out.EstimatedProfit = out.Revenue.Mul(s.margin).Round(2)
	if out.TopProducts == nil {
		out.TopProducts = []ledger.ProductSales{}
	}
	if out.RecentTransactions == nil {
		out.RecentTransactions = []ledger.Transaction{}
	}
	return out, nil
}

// RecentTransactions lists the newest transactions, newest first.
func (s *Service) RecentTransactions(ctx context.Context, owner string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = RecentLimit
	}
	return read(ctx, s, owner, func(ctx context.Context, r ledger.Reader) ([]ledger.Transaction, error) {
		return r.RecentTransactions(ctx, owner, limit)
	})
}

// Inventory lists stock rows ordered by product.
func (s *Service) Inventory(ctx context.Context, owner string) ([]ledger.InventoryItem, error) {
	return read(ctx, s, owner, func(ctx context.Context, r ledger.Reader) ([]ledger.InventoryItem, error) {
		return r.Inventory(ctx, owner)
	})
}

// CreditLedger lists balances ordered by customer.
func (s *Service) CreditLedger(ctx context.Context, owner string) ([]ledger.CreditEntry, error) {
	return read(ctx, s, owner, func(ctx context.Context, r ledger.Reader) ([]ledger.CreditEntry, error) {
		return r.CreditLedger(ctx, owner)
	})
}

func read[T any](ctx context.Context, s *Service, owner string, fn func(context.Context, ledger.Reader) ([]T, error)) ([]T, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrMissingOwner
	}
	var out []T
	err := s.store.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		out, err = fn(ctx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
