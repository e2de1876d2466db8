package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reader exposes committed ledger state. Implementations serve every call
// made through one Reader from the same snapshot.
type Reader interface {
	CashSalesRevenue(ctx context.Context, owner string) (decimal.Decimal, error)
	OutstandingCredit(ctx context.Context, owner string) (decimal.Decimal, error)
	// TopProducts ranks products by quantity sold, descending, ties by name.
	TopProducts(ctx context.Context, owner string, limit int) ([]ProductSales, error)
	// RecentTransactions orders by occurred_at descending, ties by id descending.
	RecentTransactions(ctx context.Context, owner string, limit int) ([]Transaction, error)
	// Transactions returns the owner's full log in id order.
	Transactions(ctx context.Context, owner string) ([]Transaction, error)
	Inventory(ctx context.Context, owner string) ([]InventoryItem, error)
	CreditLedger(ctx context.Context, owner string) ([]CreditEntry, error)
	Owners(ctx context.Context) ([]string, error)
}

// SnapshotPort opens consistent read-only views of the ledger.
type SnapshotPort interface {
	WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error
}
