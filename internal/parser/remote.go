package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/duka-ledger/duka/internal/ledger"
)

// StrategyRemote names the backend strategy in metrics and candidates.
const StrategyRemote = "remote"

// Instruction is sent as the system message of every backend request.
const Instruction = `You extract one business transaction from a short message written by a small shop owner.
Reply with a single JSON object and nothing else, using exactly these fields:
{"kind": "sale" | "purchase" | "payment", "product": string or null, "quantity": integer, "customer": string, "settlement": "cash" | "credit", "amount": number}
Rules:
- "purchase" when the owner bought or received stock, or the message mentions a supplier.
- "payment" when a customer paid money towards an existing debt; payments have no product and quantity 0.
- otherwise "sale".
- settlement is "credit" when the message mentions credit or owing, else "cash".
- customer is the person named in the message, or "walk-in" when nobody is named.
- quantity is the number of items, default 1. amount is the total money value.`

var (
	// ErrNotConfigured is returned by NewRemote when no backend is set.
	ErrNotConfigured = errors.New("parser: remote backend not configured")
	// ErrBadResponse covers non-2xx replies and payloads that are not a valid candidate.
	ErrBadResponse = errors.New("parser: bad backend response")
)

// RemoteConfig configures the chat completion backend.
type RemoteConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Remote delegates parsing to an OpenAI compatible chat completion endpoint.
type Remote struct {
	cfg     RemoteConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
}

// NewRemote constructs the backend strategy. It returns ErrNotConfigured when
// the URL or API key is missing.
func NewRemote(cfg RemoteConfig, client *http.Client, logger *slog.Logger) (*Remote, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "parser.remote"))

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "parser-backend",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Remote{cfg: cfg, client: client, breaker: breaker, logger: logger}, nil
}

// Name implements Strategy.
func (r *Remote) Name() string { return StrategyRemote }

// State reports the breaker state.
func (r *Remote) State() gobreaker.State { return r.breaker.State() }

// Parse implements Strategy. Identical texts in flight share one backend call,
// which runs detached from any single caller and is bounded by the configured
// timeout. A caller whose ctx ends stops waiting without cancelling the others.
func (r *Remote) Parse(ctx context.Context, text string) (ledger.Candidate, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(normalizeText(text), func() (any, error) {
		return r.breaker.Execute(func() (any, error) {
			return r.call(shared, text)
		})
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return ledger.Candidate{}, fmt.Errorf("parser: waiting for backend: %w", ctx.Err())
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ledger.Candidate{}, fmt.Errorf("parser: backend unavailable: %w", err)
		}
		return ledger.Candidate{}, err
	}
	candidate := v.(ledger.Candidate)
	candidate.RawText = text
	return candidate, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *Remote) call(ctx context.Context, text string) (ledger.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: Instruction},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return ledger.Candidate{}, fmt.Errorf("parser: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return ledger.Candidate{}, fmt.Errorf("parser: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return ledger.Candidate{}, fmt.Errorf("parser: call backend: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ledger.Candidate{}, fmt.Errorf("parser: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ledger.Candidate{}, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(payload, &chat); err != nil {
		return ledger.Candidate{}, fmt.Errorf("%w: decode envelope: %v", ErrBadResponse, err)
	}
	if len(chat.Choices) == 0 {
		return ledger.Candidate{}, fmt.Errorf("%w: no choices", ErrBadResponse)
	}
	return DecodeCandidate(chat.Choices[0].Message.Content)
}

type remoteCandidate struct {
	Kind       string           `json:"kind"`
	Product    *string          `json:"product"`
	Quantity   *decimal.Decimal `json:"quantity"`
	Customer   *string          `json:"customer"`
	Settlement string           `json:"settlement"`
	Amount     *decimal.Decimal `json:"amount"`
}

// DecodeCandidate parses a backend reply, stripping markdown code fences.
func DecodeCandidate(content string) (ledger.Candidate, error) {
	var rc remoteCandidate
	if err := json.Unmarshal([]byte(StripFences(content)), &rc); err != nil {
		return ledger.Candidate{}, fmt.Errorf("%w: decode candidate: %v", ErrBadResponse, err)
	}

	c := ledger.Candidate{
		Kind:       ledger.Kind(strings.ToLower(strings.TrimSpace(rc.Kind))),
		Settlement: ledger.Settlement(strings.ToLower(strings.TrimSpace(rc.Settlement))),
		Source:     StrategyRemote,
	}
	if !c.Kind.Valid() {
		return ledger.Candidate{}, fmt.Errorf("%w: kind %q", ErrBadResponse, rc.Kind)
	}
	if c.Settlement == "" {
		c.Settlement = ledger.SettlementCash
	}
	if !c.Settlement.Valid() {
		return ledger.Candidate{}, fmt.Errorf("%w: settlement %q", ErrBadResponse, rc.Settlement)
	}
	if rc.Product != nil && c.Kind != ledger.KindPayment {
		c.Product = strings.ToLower(strings.TrimSpace(*rc.Product))
	}
	if rc.Quantity != nil {
		if !rc.Quantity.IsInteger() || rc.Quantity.IsNegative() {
			return ledger.Candidate{}, fmt.Errorf("%w: quantity %s", ErrBadResponse, rc.Quantity)
		}
		if rc.Quantity.GreaterThan(decimal.NewFromInt(ledger.MaxQuantity)) {
			return ledger.Candidate{}, fmt.Errorf("%w: quantity %s out of range", ErrBadResponse, rc.Quantity)
		}
		c.Quantity = rc.Quantity.IntPart()
	}
	if c.Product != "" && rc.Quantity == nil {
		c.Quantity = 1
	}
	if rc.Amount != nil {
		if rc.Amount.IsNegative() {
			return ledger.Candidate{}, fmt.Errorf("%w: amount %s", ErrBadResponse, rc.Amount)
		}
		c.Amount = *rc.Amount
	}
	c.Customer = ledger.WalkIn
	if rc.Customer != nil {
		c.Customer = ledger.CanonicalCustomer(*rc.Customer)
	}
	if c.Product != "" && c.Quantity > 0 {
		c.UnitPrice = c.Amount.Div(decimal.NewFromInt(c.Quantity)).Round(2)
	}
	return c, nil
}

// StripFences removes a surrounding markdown code block such as ```json ... ```.
func StripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
