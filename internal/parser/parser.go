package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/duka-ledger/duka/internal/ledger"
)

// Strategy turns free text into a candidate transaction.
type Strategy interface {
	Name() string
	Parse(ctx context.Context, text string) (ledger.Candidate, error)
}

// Recorder receives parser outcomes for metrics.
type Recorder interface {
	ParserResult(strategy, outcome string)
}

// Parser composes an optional remote strategy with the heuristic fallback.
type Parser struct {
	primary  Strategy
	fallback *Heuristic
	logger   *slog.Logger
	metrics  Recorder
}

// Option customises Parser.
type Option func(*Parser)

// WithPrimary sets the strategy tried before the heuristic. A nil strategy
// leaves the parser heuristic only.
func WithPrimary(s Strategy) Option {
	return func(p *Parser) {
		p.primary = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Parser) {
		p.metrics = r
	}
}

// New constructs a Parser falling back to heuristic.
func New(heuristic *Heuristic, opts ...Option) *Parser {
	if heuristic == nil {
		heuristic = NewHeuristic(DefaultLexicon())
	}
	p := &Parser{fallback: heuristic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "parser"))
	return p
}

// Parse returns a candidate for text. Failures of the primary strategy are
// logged and counted, then the heuristic result is returned.
func (p *Parser) Parse(ctx context.Context, text string) ledger.Candidate {
	if p.primary != nil {
		candidate, err := p.primary.Parse(ctx, text)
		if err == nil {
			candidate.RawText = text
			if candidate.Source == "" {
				candidate.Source = p.primary.Name()
			}
			p.record(p.primary.Name(), "ok")
			return candidate
		}
		p.logger.Warn("primary parser failed, using heuristic",
			slog.String("strategy", p.primary.Name()),
			slog.Any("error", err))
		p.record(p.primary.Name(), "fallback")
	}
	candidate := p.fallback.Extract(text)
	p.record(p.fallback.Name(), "ok")
	return candidate
}

func (p *Parser) record(strategy, outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.ParserResult(strategy, outcome)
}

// normalizeText lowercases text and collapses whitespace. Texts equal after
// normalisation share cache entries and in-flight calls.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
