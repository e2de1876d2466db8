// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duka-ledger/duka/internal/ledger"
)

// Op names passed to Store.Fault.
const (
	OpInsert    = "insert_transaction"
	OpInventory = "adjust_inventory"
	OpCredit    = "adjust_credit"
	OpCommit    = "commit"
)

// Store keeps all ledger tables in maps. Writes made inside WithTx are staged
// and only become visible when the callback succeeds.
type Store struct {
	mu           sync.Mutex
	nextID       int64
	transactions []ledger.Transaction
	inventory    map[string]ledger.InventoryItem
	credit       map[string]ledger.CreditEntry

	// Fault, when set, is consulted before every operation; a non-nil
	// return aborts the transaction with that error.
	Fault func(op string) error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		inventory: make(map[string]ledger.InventoryItem),
		credit:    make(map[string]ledger.CreditEntry),
	}
}

func key(owner, name string) string {
	return owner + "\x00" + name
}

type memoryTx struct {
	store        *Store
	transactions []ledger.Transaction
	inventory    map[string]ledger.InventoryItem
	credit       map[string]ledger.CreditEntry
}

// WithTx serialises transactions and commits staged writes atomically.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	tx := &memoryTx{
		store:     s,
		inventory: make(map[string]ledger.InventoryItem),
		credit:    make(map[string]ledger.CreditEntry),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.fault(OpCommit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	s.transactions = append(s.transactions, tx.transactions...)
	for k, v := range tx.inventory {
		s.inventory[k] = v
	}
	for k, v := range tx.credit {
		s.credit[k] = v
	}
	return nil
}

func (s *Store) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	return s.Fault(op)
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, txn ledger.Transaction) (ledger.Transaction, error) {
	if err := tx.store.fault(OpInsert); err != nil {
		return ledger.Transaction{}, err
	}
	// IDs are consumed even on rollback, like a database sequence.
	tx.store.nextID++
	txn.ID = tx.store.nextID
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = time.Now().UTC()
	}
	tx.transactions = append(tx.transactions, txn)
	return txn, nil
}

func (tx *memoryTx) AdjustInventory(ctx context.Context, owner, product string, delta int64, unitPrice decimal.Decimal) error {
	if err := tx.store.fault(OpInventory); err != nil {
		return err
	}
	k := key(owner, product)
	item, ok := tx.inventory[k]
	if !ok {
		item, ok = tx.store.inventory[k]
	}
	if !ok {
		item = ledger.InventoryItem{Owner: owner, Product: product}
	}
	item.Quantity += delta
	if unitPrice.IsPositive() {
		item.UnitPrice = unitPrice
	}
	item.UpdatedAt = time.Now().UTC()
	tx.inventory[k] = item
	return nil
}

func (tx *memoryTx) AdjustCredit(ctx context.Context, owner, customer string, delta decimal.Decimal) error {
	if err := tx.store.fault(OpCredit); err != nil {
		return err
	}
	k := key(owner, customer)
	entry, ok := tx.credit[k]
	if !ok {
		entry, ok = tx.store.credit[k]
	}
	if !ok {
		entry = ledger.CreditEntry{Owner: owner, Customer: customer}
	}
	entry.Balance = entry.Balance.Add(delta)
	entry.UpdatedAt = time.Now().UTC()
	tx.credit[k] = entry
	return nil
}

// WithSnapshot serves reads under the store lock.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, ledger.Reader) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	return fn(ctx, reader{s})
}

// Seed appends a transaction directly, bypassing effects. Tests use it to
// fake drift or to pin timestamps.
func (s *Store) Seed(txn ledger.Transaction) ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	txn.ID = s.nextID
	s.transactions = append(s.transactions, txn)
	return txn
}

// SetInventory overwrites a stock row.
func (s *Store) SetInventory(owner, product string, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(owner, product)
	item := s.inventory[k]
	item.Owner, item.Product, item.Quantity = owner, product, qty
	s.inventory[k] = item
}

// TransactionCount returns the number of committed transactions.
func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

// Stock returns the committed quantity for a product and whether a row exists.
func (s *Store) Stock(owner, product string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.inventory[key(owner, product)]
	return item.Quantity, ok
}

// Balance returns the committed credit balance and whether a row exists.
func (s *Store) Balance(owner, customer string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.credit[key(owner, customer)]
	return entry.Balance, ok
}

type reader struct {
	s *Store
}

func (r reader) owned(owner string) []ledger.Transaction {
	var out []ledger.Transaction
	for _, t := range r.s.transactions {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out
}

func (r reader) CashSalesRevenue(ctx context.Context, owner string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range r.owned(owner) {
		if t.Kind == ledger.KindSale && t.Settlement == ledger.SettlementCash {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (r reader) OutstandingCredit(ctx context.Context, owner string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range r.s.credit {
		if e.Owner == owner {
			total = total.Add(e.Balance)
		}
	}
	return total, nil
}

func (r reader) TopProducts(ctx context.Context, owner string, limit int) ([]ledger.ProductSales, error) {
	sold := map[string]int64{}
	for _, t := range r.owned(owner) {
		if t.Kind == ledger.KindSale && t.Product != "" {
			sold[t.Product] += t.Quantity
		}
	}
	out := make([]ledger.ProductSales, 0, len(sold))
	for p, q := range sold {
		out = append(out, ledger.ProductSales{Product: p, QuantitySold: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuantitySold != out[j].QuantitySold {
			return out[i].QuantitySold > out[j].QuantitySold
		}
		return out[i].Product < out[j].Product
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reader) RecentTransactions(ctx context.Context, owner string, limit int) ([]ledger.Transaction, error) {
	out := r.owned(owner)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reader) Transactions(ctx context.Context, owner string) ([]ledger.Transaction, error) {
	return r.owned(owner), nil
}

func (r reader) Inventory(ctx context.Context, owner string) ([]ledger.InventoryItem, error) {
	out := []ledger.InventoryItem{}
	for _, item := range r.s.inventory {
		if item.Owner == owner {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out, nil
}

func (r reader) CreditLedger(ctx context.Context, owner string) ([]ledger.CreditEntry, error) {
	out := []ledger.CreditEntry{}
	for _, entry := range r.s.credit {
		if entry.Owner == owner {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Customer < out[j].Customer })
	return out, nil
}

func (r reader) Owners(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range r.s.transactions {
		if !seen[t.Owner] {
			seen[t.Owner] = true
			out = append(out, t.Owner)
		}
	}
	sort.Strings(out)
	return out, nil
}

var (
	_ ledger.RepositoryPort = (*Store)(nil)
	_ ledger.SnapshotPort   = (*Store)(nil)
)
