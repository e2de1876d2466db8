package parser

import "github.com/shopspring/decimal"

// FallbackUnitPrice prices goods that match no product entry.
var FallbackUnitPrice = decimal.NewFromInt(1500)

// ProductPrice is one entry of the price table.
type ProductPrice struct {
	Name      string
	UnitPrice decimal.Decimal
}

// Lexicon holds the keyword tables used by the heuristic strategy. Products and
// Names are ordered: the first entry found in the text wins.
type Lexicon struct {
	AcquisitionVerbs []string
	SettlementVerbs  []string
	CreditKeywords   []string
	Products         []ProductPrice
	Names            []string
	FallbackPrice    decimal.Decimal
}

// DefaultLexicon returns the tables for a small neighbourhood shop.
func DefaultLexicon() Lexicon {
	return Lexicon{
		AcquisitionVerbs: []string{"bought", "received", "supplier"},
		SettlementVerbs:  []string{"paid"},
		CreditKeywords:   []string{"credit", "owe"},
		Products: []ProductPrice{
			{Name: "soda", UnitPrice: decimal.NewFromInt(1500)},
			{Name: "cake", UnitPrice: decimal.NewFromInt(3000)},
			{Name: "sugar", UnitPrice: decimal.NewFromInt(4500)},
			{Name: "bread", UnitPrice: decimal.NewFromInt(2500)},
			{Name: "milk", UnitPrice: decimal.NewFromInt(2000)},
		},
		Names:         []string{"grace", "treasure", "james", "john", "mary", "supplier"},
		FallbackPrice: FallbackUnitPrice,
	}
}
