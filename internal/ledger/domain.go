package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind enumerates the recorded business events.
type Kind string

const (
	// KindSale records goods leaving the shop.
	KindSale Kind = "sale"
	// KindPurchase records stock received from a supplier.
	KindPurchase Kind = "purchase"
	// KindPayment records a customer paying down credit.
	KindPayment Kind = "payment"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindPurchase, KindPayment:
		return true
	}
	return false
}

// Settlement tells whether value changed hands now or was deferred.
type Settlement string

const (
	SettlementCash   Settlement = "cash"
	SettlementCredit Settlement = "credit"
)

// Valid reports whether s is a known settlement.
func (s Settlement) Valid() bool {
	return s == SettlementCash || s == SettlementCredit
}

// WalkIn is the customer recorded when the counterparty is unknown.
const WalkIn = "walk-in"

// Candidate is a parsed transaction that has not been stored yet.
type Candidate struct {
	Kind       Kind            `json:"kind"`
	Product    string          `json:"product,omitempty"`
	Quantity   int64           `json:"quantity"`
	Customer   string          `json:"customer"`
	Settlement Settlement      `json:"settlement"`
	Amount     decimal.Decimal `json:"amount"`
	// UnitPrice is the price used to derive Amount, zero when unknown.
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Source names the parsing strategy that produced the candidate.
	Source string `json:"source,omitempty"`
	// Rejected is set by a parser that found a value it cannot represent,
	// such as a number out of range. Such a candidate is never stored.
	Rejected string `json:"rejected,omitempty"`
	RawText  string `json:"-"`
}

// Transaction is an immutable, stored ledger event.
type Transaction struct {
	ID         int64           `json:"id"`
	Owner      string          `json:"owner"`
	Kind       Kind            `json:"kind"`
	Product    string          `json:"product,omitempty"`
	Quantity   int64           `json:"quantity"`
	Customer   string          `json:"customer"`
	Settlement Settlement      `json:"settlement"`
	Amount     decimal.Decimal `json:"amount"`
	RawText    string          `json:"raw_text,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// InventoryItem is the running stock count for one product of one owner.
type InventoryItem struct {
	Owner     string          `json:"-"`
	Product   string          `json:"product"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreditEntry is the running balance one customer owes one owner.
type CreditEntry struct {
	Owner     string          `json:"-"`
	Customer  string          `json:"customer"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductSales is the total quantity sold of a product.
type ProductSales struct {
	Product      string `json:"product"`
	QuantitySold int64  `json:"quantity_sold"`
}

// ErrInvalidCandidate is returned before any write when a candidate cannot be stored.
var ErrInvalidCandidate = errors.New("ledger: invalid candidate")

// Storage bounds. Money columns are NUMERIC(18,2).
const (
	MoneyScale  = 2
	MaxQuantity = int64(1_000_000_000)
)

// MaxAmount is the largest amount or unit price a row can hold.
var MaxAmount = decimal.New(1, 16).Sub(decimal.New(1, -MoneyScale))

// CanonicalCustomer returns the ledger key for a customer name: trimmed,
// inner whitespace collapsed and title-cased, so "grace" and "GRACE" share
// one credit row. Empty names and any spelling of walk-in map to WalkIn.
func CanonicalCustomer(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" || strings.EqualFold(name, WalkIn) {
		return WalkIn
	}
	// A Caser is stateful; one per call keeps this safe for concurrent use.
	return cases.Title(language.English).String(name)
}

// Normalize fills defaults and canonicalises keys. Money is rounded to the
// stored scale so the returned transaction matches the persisted row.
func Normalize(c Candidate) Candidate {
	c.Product = strings.ToLower(strings.TrimSpace(c.Product))
	c.Customer = CanonicalCustomer(c.Customer)
	if c.Settlement == "" {
		c.Settlement = SettlementCash
	}
	c.Amount = c.Amount.Round(MoneyScale)
	c.UnitPrice = c.UnitPrice.Round(MoneyScale)
	return c
}

// Validate checks a normalised candidate.
func Validate(owner string, c Candidate) error {
	switch {
	case strings.TrimSpace(owner) == "":
		return fmt.Errorf("%w: owner required", ErrInvalidCandidate)
	case c.Rejected != "":
		return fmt.Errorf("%w: %s", ErrInvalidCandidate, c.Rejected)
	case !c.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCandidate, c.Kind)
	case !c.Settlement.Valid():
		return fmt.Errorf("%w: unknown settlement %q", ErrInvalidCandidate, c.Settlement)
	case c.Quantity < 0:
		return fmt.Errorf("%w: quantity must be >= 0", ErrInvalidCandidate)
	case c.Amount.IsNegative():
		return fmt.Errorf("%w: amount must be >= 0", ErrInvalidCandidate)
	case c.UnitPrice.IsNegative():
		return fmt.Errorf("%w: unit price must be >= 0", ErrInvalidCandidate)
	case c.Quantity > MaxQuantity:
		return fmt.Errorf("%w: quantity exceeds %d", ErrInvalidCandidate, MaxQuantity)
	case c.Amount.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalidCandidate, MaxAmount)
	case c.UnitPrice.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: unit price exceeds %s", ErrInvalidCandidate, MaxAmount)
	}
	return nil
}

// Effects describes what one transaction does to the derived ledgers.
type Effects struct {
	Stock       bool
	StockDelta  int64
	Credit      bool
	CreditDelta decimal.Decimal
}

// EffectsOf returns the inventory and credit deltas of a transaction.
func EffectsOf(kind Kind, product string, quantity int64, customer string, settlement Settlement, amount decimal.Decimal) Effects {
	var e Effects
	if product != "" && quantity > 0 {
		switch kind {
		case KindSale:
			e.Stock, e.StockDelta = true, -quantity
		case KindPurchase:
			e.Stock, e.StockDelta = true, quantity
		}
	}
	if customer != "" && settlement == SettlementCredit {
		switch kind {
		case KindSale:
			e.Credit, e.CreditDelta = true, amount
		case KindPayment:
			e.Credit, e.CreditDelta = true, amount.Neg()
		}
	}
	return e
}

// Effects returns the ledger effects of a stored transaction.
func (t Transaction) Effects() Effects {
	return EffectsOf(t.Kind, t.Product, t.Quantity, t.Customer, t.Settlement, t.Amount)
}
