package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duka-ledger/duka/internal/ledger"
)

const cacheKeyPrefix = "duka:parse:"

// Cached decorates a strategy with a Redis cache of successful results.
// Cache failures are logged and never fail a parse.
type Cached struct {
	next   Strategy
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next. A nil client disables caching.
func NewCached(next Strategy, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

// Name implements Strategy.
func (c *Cached) Name() string { return c.next.Name() }

// Parse implements Strategy.
func (c *Cached) Parse(ctx context.Context, text string) (ledger.Candidate, error) {
	if c.client == nil {
		return c.next.Parse(ctx, text)
	}
	key := cacheKey(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var candidate ledger.Candidate
		if jsonErr := json.Unmarshal(raw, &candidate); jsonErr == nil {
			candidate.RawText = text
			return candidate, nil
		}
		c.logger.Warn("discard corrupt parse cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("parse cache read failed", slog.Any("error", err))
	}

	candidate, err := c.next.Parse(ctx, text)
	if err != nil {
		return ledger.Candidate{}, err
	}
	if payload, err := json.Marshal(candidate); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("parse cache write failed", slog.Any("error", err))
		}
	}
	return candidate, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
