package app

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/duka-ledger/duka/internal/parser"
)

// NewParser assembles the text parser from configuration. Without backend
// credentials it parses with the heuristic only. A nil redis client disables
// the remote result cache.
func NewParser(cfg *Config, logger *slog.Logger, redisClient *redis.Client, recorder parser.Recorder) (*parser.Parser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []parser.Option{parser.WithLogger(logger), parser.WithRecorder(recorder)}
	heuristic := parser.NewHeuristic(parser.DefaultLexicon())
	if !cfg.ParserBackendConfigured() {
		logger.Info("parser backend not configured, using heuristic parser")
		return parser.New(heuristic, opts...), nil
	}

	remote, err := parser.NewRemote(parser.RemoteConfig{
		URL:     cfg.ParserBackendURL,
		APIKey:  cfg.ParserBackendAPIKey,
		Model:   cfg.ParserBackendModel,
		Timeout: cfg.ParserBackendTimeout,
	}, &http.Client{Timeout: cfg.ParserBackendTimeout + cfg.ParserBackendTimeout/2}, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, parser.WithPrimary(parser.NewCached(remote, redisClient, cfg.ParserCacheTTL, logger)))
	logger.Info("parser backend enabled", slog.String("model", cfg.ParserBackendModel))
	return parser.New(heuristic, opts...), nil
}
