// Package ingest turns free text submitted by an owner into a stored transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duka-ledger/duka/internal/ledger"
)

var (
	// ErrEmptyText is returned for blank submissions.
	ErrEmptyText = errors.New("ingest: text required")
	// ErrMissingOwner is returned when no owner identity accompanies the text.
	ErrMissingOwner = errors.New("ingest: owner required")
)

// Parser extracts a candidate from text. It never fails.
type Parser interface {
	Parse(ctx context.Context, text string) ledger.Candidate
}

// Applier stores a candidate atomically.
type Applier interface {
	Apply(ctx context.Context, owner string, candidate ledger.Candidate) (ledger.Transaction, error)
}

// Result is returned for an accepted submission.
type Result struct {
	ID          int64              `json:"id"`
	Parsed      ledger.Candidate   `json:"parsed"`
	Transaction ledger.Transaction `json:"transaction"`
}

// Service validates, parses and applies submissions.
type Service struct {
	parser Parser
	ledger Applier
	logger *slog.Logger
}

// NewService constructs Service.
func NewService(parser Parser, applier Applier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{parser: parser, ledger: applier, logger: logger.With(slog.String("component", "ingest"))}
}

// Ingest records text for owner. Parsing finishes before the ledger
// transaction opens, so a slow backend never holds database resources.
func (s *Service) Ingest(ctx context.Context, owner, text string) (Result, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Result{}, ErrMissingOwner
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}

	candidate := s.parser.Parse(ctx, text)
	candidate.RawText = text
	if candidate.Rejected != "" {
		return Result{}, fmt.Errorf("%w: %s", ledger.ErrInvalidCandidate, candidate.Rejected)
	}

	txn, err := s.ledger.Apply(ctx, owner, candidate)
	if err != nil {
		return Result{}, err
	}
	s.logger.Debug("text ingested",
		slog.String("owner", owner),
		slog.Int64("id", txn.ID),
		slog.String("source", candidate.Source))
	return Result{ID: txn.ID, Parsed: candidate, Transaction: txn}, nil
}
