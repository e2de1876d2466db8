package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/duka-ledger/duka/internal/reconcile"
)

// Reconciler is satisfied by reconcile.Checker.
type Reconciler interface {
	Check(ctx context.Context) (reconcile.Report, error)
	CheckOwner(ctx context.Context, owner string) ([]reconcile.Drift, error)
}

// ReconcileOptions controls ReconcileCommand.
type ReconcileOptions struct {
	Owner      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCommand checks the ledgers in process. Exit code 0 means
// consistent, 3 means drift was found and 1 means the check failed.
func ReconcileCommand(ctx context.Context, r Reconciler, opts ReconcileOptions) int {
	var report reconcile.Report
	if opts.Owner != "" {
		drifts, err := r.CheckOwner(ctx, opts.Owner)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
		report = reconcile.Report{Owners: 1, Drifts: drifts}
	} else {
		var err error
		if report, err = r.Check(ctx); err != nil {
			fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
	}
	if report.Drifts == nil {
		report.Drifts = []reconcile.Drift{}
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, report)
	}
	if len(report.Drifts) > 0 {
		return 3
	}
	return 0
}

func renderReconcileHuman(out io.Writer, report reconcile.Report) {
	fmt.Fprintf(out, "owners checked: %d\n", report.Owners)
	if len(report.Drifts) == 0 {
		fmt.Fprintln(out, "ledgers consistent")
		return
	}
	fmt.Fprintf(out, "drift: %d rows\n", len(report.Drifts))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tLEDGER\tKEY\tEXPECTED\tACTUAL")
	for _, d := range report.Drifts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Owner, d.Ledger, d.Key, d.Expected, d.Actual)
	}
	_ = tw.Flush()
}
