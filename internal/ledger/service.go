package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that make up one Apply. Every method runs
// inside the transaction opened by WithTx.
type TxRepository interface {
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	// AdjustInventory adds delta to the stock of product, creating the row when
	// absent. A positive unitPrice replaces the stored price.
	AdjustInventory(ctx context.Context, owner, product string, delta int64, unitPrice decimal.Decimal) error
	// AdjustCredit adds delta to the customer's balance, creating the row when absent.
	AdjustCredit(ctx context.Context, owner, customer string, delta decimal.Decimal) error
}

// Recorder receives apply outcomes for metrics.
type Recorder interface {
	LedgerApply(kind, outcome string)
}

// Service applies candidates to the three ledgers atomically.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		logger:  logger.With(slog.String("component", "ledger")),
		metrics: metrics,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Apply stores the transaction and its inventory and credit effects as one
// unit. Either everything commits or nothing does.
func (s *Service) Apply(ctx context.Context, owner string, candidate Candidate) (Transaction, error) {
	c := Normalize(candidate)
	if err := Validate(owner, c); err != nil {
		s.record(c.Kind, err)
		return Transaction{}, err
	}

	pending := Transaction{
		Owner:      owner,
		Kind:       c.Kind,
		Product:    c.Product,
		Quantity:   c.Quantity,
		Customer:   c.Customer,
		Settlement: c.Settlement,
		Amount:     c.Amount,
		RawText:    c.RawText,
		OccurredAt: s.now(),
	}
	effects := pending.Effects()

	var stored Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		stored, err = tx.InsertTransaction(ctx, pending)
		if err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}
		if effects.Stock {
			if err := tx.AdjustInventory(ctx, owner, c.Product, effects.StockDelta, c.UnitPrice); err != nil {
				return fmt.Errorf("ledger: adjust inventory %q: %w", c.Product, err)
			}
		}
		if effects.Credit {
			if err := tx.AdjustCredit(ctx, owner, c.Customer, effects.CreditDelta); err != nil {
				return fmt.Errorf("ledger: adjust credit %q: %w", c.Customer, err)
			}
		}
		return nil
	})
	s.record(c.Kind, err)
	if err != nil {
		s.logger.Error("apply transaction",
			slog.String("owner", owner),
			slog.String("kind", string(c.Kind)),
			slog.String("outcome", Outcome(err)),
			slog.Bool("retryable", IsRetryable(err)),
			slog.Any("error", err))
		return Transaction{}, err
	}

	s.logger.Info("transaction applied",
		slog.String("owner", owner),
		slog.Int64("id", stored.ID),
		slog.String("kind", string(stored.Kind)),
		slog.Int64("stock_delta", effects.StockDelta),
		slog.String("credit_delta", effects.CreditDelta.String()))
	return stored, nil
}

func (s *Service) record(kind Kind, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.LedgerApply(string(kind), Outcome(err))
}
