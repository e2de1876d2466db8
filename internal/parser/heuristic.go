package parser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/duka-ledger/duka/internal/ledger"
)

// StrategyHeuristic names the keyword based strategy in metrics and candidates.
const StrategyHeuristic = "heuristic"

var integerLiteral = regexp.MustCompile(`\d+`)

// Heuristic extracts a candidate from keywords and the first integer literal.
// It is deterministic and never fails; a literal too large to store marks the
// candidate Rejected instead.
type Heuristic struct {
	lexicon Lexicon
}

// NewHeuristic constructs a heuristic strategy over lexicon.
func NewHeuristic(lexicon Lexicon) *Heuristic {
	if lexicon.FallbackPrice.IsZero() {
		lexicon.FallbackPrice = FallbackUnitPrice
	}
	return &Heuristic{lexicon: lexicon}
}

// Name implements Strategy.
func (h *Heuristic) Name() string { return StrategyHeuristic }

// Parse implements Strategy. The error is always nil.
func (h *Heuristic) Parse(_ context.Context, text string) (ledger.Candidate, error) {
	return h.Extract(text), nil
}

// Extract builds a candidate from text.
func (h *Heuristic) Extract(text string) ledger.Candidate {
	lower := strings.ToLower(text)

	credit := containsAny(lower, h.lexicon.CreditKeywords)
	kind := ledger.KindSale
	switch {
	case containsAny(lower, h.lexicon.AcquisitionVerbs):
		kind = ledger.KindPurchase
	case credit && containsAny(lower, h.lexicon.SettlementVerbs):
		kind = ledger.KindPayment
	}

	settlement := ledger.SettlementCash
	if credit {
		settlement = ledger.SettlementCredit
	}

	literal, raw, err := firstInteger(lower)
	found := raw != "" && err == nil

	candidate := ledger.Candidate{
		Kind:       kind,
		Customer:   ledger.WalkIn,
		Settlement: settlement,
		Source:     StrategyHeuristic,
		RawText:    text,
	}
	for _, name := range h.lexicon.Names {
		if name != "" && strings.Contains(lower, name) {
			candidate.Customer = ledger.CanonicalCustomer(name)
			break
		}
	}
	if err != nil {
		candidate.Rejected = fmt.Sprintf("number %s is out of range", raw)
		return candidate
	}

	if kind == ledger.KindPayment {
		// No product to price: the literal is the amount paid.
		if found {
			candidate.Amount = decimal.NewFromInt(literal)
		}
		return candidate
	}

	quantity := int64(1)
	if found {
		quantity = literal
	}
	candidate.Quantity = quantity
	for _, p := range h.lexicon.Products {
		if p.Name != "" && strings.Contains(lower, p.Name) {
			candidate.Product = p.Name
			candidate.UnitPrice = p.UnitPrice
			break
		}
	}
	price := candidate.UnitPrice
	if candidate.Product == "" {
		price = h.lexicon.FallbackPrice
	}
	candidate.Amount = price.Mul(decimal.NewFromInt(quantity))
	return candidate
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// firstInteger returns the first integer literal of text and its digits. raw
// is empty when there is none; err is set when it does not fit in int64.
func firstInteger(text string) (n int64, raw string, err error) {
	raw = integerLiteral.FindString(text)
	if raw == "" {
		return 0, "", nil
	}
	n, err = strconv.ParseInt(raw, 10, 64)
	return n, raw, err
}
