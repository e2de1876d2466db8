package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/duka-ledger/duka/cmd/duka/cli"
	"github.com/duka-ledger/duka/internal/app"
	"github.com/duka-ledger/duka/internal/dashboard"
	"github.com/duka-ledger/duka/internal/ingest"
	"github.com/duka-ledger/duka/internal/ledger"
	"github.com/duka-ledger/duka/internal/observability"
	"github.com/duka-ledger/duka/internal/platform/cache"
	"github.com/duka-ledger/duka/internal/platform/db"
	"github.com/duka-ledger/duka/internal/reconcile"
	"github.com/duka-ledger/duka/jobs"
)

const usage = `usage: duka <command> [flags]

commands:
  serve       run the HTTP API (default)
  parse       show how a sentence would be recorded
  reconcile   recompute derived ledgers and report drift
  jobs        enqueue or inspect background jobs
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch cmd {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("serve", slog.Any("error", err))
			return 1
		}
		return 0
	case "parse":
		return runParse(ctx, cfg, logger, args, stdout, stderr)
	case "reconcile":
		return runReconcile(ctx, cfg, logger, args, stdout, stderr)
	case "jobs":
		return runJobs(ctx, cfg, args, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	margin, err := cfg.Margin()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	repo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(repo, logger, metrics)

	textParser, err := app.NewParser(cfg, logger, redisClient, metrics)
	if err != nil {
		return fmt.Errorf("init parser: %w", err)
	}

	ingestService := ingest.NewService(textParser, ledgerService, logger)
	dashboardService := dashboard.NewService(repo, margin)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		IngestHandler:    ingest.NewHandler(ingestService, logger),
		DashboardHandler: dashboard.NewHandler(dashboardService, logger),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
		Database:         pool,
		Metrics:          metrics,
	})

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}
	return app.Serve(ctx, srv, logger, 10*time.Second)
}

// connectRedis returns nil when Redis is unreachable; the parse cache is
// optional for the API.
func connectRedis(ctx context.Context, cfg *app.Config, logger *slog.Logger) *redis.Client {
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, parse cache disabled", slog.Any("error", err))
		return nil
	}
	return client
}

func runParse(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "print the candidate as JSON")
	heuristicOnly := fs.Bool("heuristic", false, "skip the remote backend")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	parserCfg := *cfg
	if *heuristicOnly {
		parserCfg.ParserBackendAPIKey = ""
	}
	textParser, err := app.NewParser(&parserCfg, logger, nil, nil)
	if err != nil {
		fmt.Fprintf(stderr, "parse: %v\n", err)
		return 1
	}
	return cli.ParseCommand(ctx, textParser, cli.ParseOptions{
		Text:       strings.Join(fs.Args(), " "),
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func runReconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	owner := fs.String("owner", "", "check a single owner")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	concurrency := fs.Int("concurrency", 4, "owners checked in parallel")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(stderr, "reconcile: connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	checker := reconcile.NewChecker(ledger.NewRepository(pool), logger, *concurrency)
	return cli.ReconcileCommand(ctx, checker, cli.ReconcileOptions{
		Owner:      *owner,
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: duka jobs <reconcile|stats> [flags]")
		return 2
	}
	sub, args := args[0], args[1:]

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()

	switch sub {
	case "reconcile":
		fs := flag.NewFlagSet("jobs reconcile", flag.ContinueOnError)
		fs.SetOutput(stderr)
		owner := fs.String("owner", "", "limit the run to one owner")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		info, err := jobsCLI.TriggerReconcile(ctx, *owner)
		switch {
		case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
			fmt.Fprintln(stdout, "reconcile already queued")
			return 0
		case err != nil:
			fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "queued %s on %s\n", info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "jobs: unknown subcommand %q\n", sub)
		return 2
	}
}
