// Package cli implements the operator subcommands of the duka binary.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/duka-ledger/duka/internal/ledger"
)

// TextParser is satisfied by parser.Parser.
type TextParser interface {
	Parse(ctx context.Context, text string) ledger.Candidate
}

// ParseOptions controls ParseCommand.
type ParseOptions struct {
	Text       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ParseCommand shows how text would be recorded without storing anything.
func ParseCommand(ctx context.Context, p TextParser, opts ParseOptions) int {
	if strings.TrimSpace(opts.Text) == "" {
		fmt.Fprintln(opts.Stderr, "parse: text required")
		return 2
	}
	candidate := p.Parse(ctx, opts.Text)
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(candidate); err != nil {
			fmt.Fprintf(opts.Stderr, "parse: %v\n", err)
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	product := candidate.Product
	if product == "" {
		product = "-"
	}
	fmt.Fprintf(tw, "kind\t%s\n", candidate.Kind)
	fmt.Fprintf(tw, "product\t%s\n", product)
	fmt.Fprintf(tw, "quantity\t%d\n", candidate.Quantity)
	fmt.Fprintf(tw, "customer\t%s\n", candidate.Customer)
	fmt.Fprintf(tw, "settlement\t%s\n", candidate.Settlement)
	fmt.Fprintf(tw, "amount\t%s\n", candidate.Amount.StringFixed(2))
	fmt.Fprintf(tw, "source\t%s\n", candidate.Source)
	if candidate.Rejected != "" {
		fmt.Fprintf(tw, "rejected\t%s\n", candidate.Rejected)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(opts.Stderr, "parse: %v\n", err)
		return 1
	}
	return 0
}
