// Package main implements the veritas-server CLI: a cobra root command
// hosting the stdio tool surface and the job scheduler behind it.
//
// Command registration hub. Two subcommands:
//   - serve   - wires every collaborator, starts the scheduler pool, and
//     runs the toolsurface stdio server until stdin closes or a signal
//     arrives.
//   - migrate - opens the store (running any pending migrations) and
//     exits, for use in a deploy step ahead of `serve`.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"veritas/internal/authqueue"
	"veritas/internal/citegraph"
	"veritas/internal/collaborators/academic"
	"veritas/internal/collaborators/browser"
	"veritas/internal/collaborators/embedder"
	"veritas/internal/collaborators/fetch"
	"veritas/internal/collaborators/llmextract"
	"veritas/internal/collaborators/nli"
	"veritas/internal/config"
	"veritas/internal/extract"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/paperindex"
	"veritas/internal/scheduler"
	"veritas/internal/search"
	"veritas/internal/store"
	"veritas/internal/toolsurface"
)

var (
	verbose    bool
	configPath string
	dataDir    string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "veritas-server",
	Short: "Veritas research server - evidence graph builder behind a stdio tool surface",
	Long: `veritas-server ingests query/url/doi targets, extracts claims and fragments,
judges them against a task's central hypothesis via NLI, chases the citation
graph one hop at a time, and exposes the resulting evidence graph through a
line-delimited JSON tool surface over stdio.

Run "veritas-server serve" to start it; "veritas-server migrate" applies
pending schema migrations and exits.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the stdio tool surface",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level boot logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults applied for anything omitted)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "overrides config's data_dir")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a top-level command failure to spec's process-level exit
// codes: 1 for an unrecoverable startup failure, 2 for a schema/migration
// failure.
func exitCodeFor(err error) int {
	var migrateErr *migrationError
	if errors.As(err, &migrateErr) {
		return 2
	}
	return 1
}

type migrationError struct{ cause error }

func (e *migrationError) Error() string { return fmt.Sprintf("migration failed: %v", e.cause) }
func (e *migrationError) Unwrap() error { return e.cause }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.DataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.DataDir = filepath.Join(wd, ".veritas")
	}
	if !filepath.IsAbs(cfg.DataDir) {
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = abs
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := logging.Configure(cfg.DataDir, cfg.Logging.DebugMode, cfg.Logging.Categories, cfg.Logging.Level); err != nil {
		logger.Warn("failed to configure file logging", zap.Error(err))
	}
	dbPath := filepath.Join(cfg.DataDir, "veritas.db")
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, &migrationError{cause: err}
	}
	return s, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("applying migrations", zap.String("data_dir", cfg.DataDir))
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	logger.Info("migrations applied")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("booting veritas-server", zap.String("data_dir", cfg.DataDir), zap.Int("workers", cfg.WorkerCount))

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	apiKey := os.Getenv("VERITAS_GENAI_API_KEY")
	embed, extractor, classifier, err := buildGenAICollaborators(ctx, apiKey)
	if err != nil {
		logger.Warn("genai collaborators unavailable; extraction/verification/vector_search will error until configured", zap.Error(err))
	}

	gateway := &academic.MultiGateway{
		SemanticScholar: academic.NewSemanticScholarClient(""),
		OpenAlex:        academic.NewOpenAlexClient(cfg.Academic.OpenAlex.PolitePoolContact),
		Crossref:        academic.NewCrossrefClient(cfg.Academic.Crossref.PolitePoolContact),
		Arxiv:           academic.NewArxivClient(),
	}

	fetcher, err := fetch.NewHTTPFetcher(fetch.Config{SOCKS5Addr: cfg.TorProxyAddr})
	if err != nil {
		return fmt.Errorf("build http fetcher: %w", err)
	}
	browserDriver := browser.NewRodDriver(browser.Config{Headless: true})

	index := paperindex.New(s)

	fce := extract.New(s, extractor, classifier, embed, extract.Config{
		MaxFragmentsPerPage: cfg.BudgetDefaults.MaxFragmentsPerPage,
		MaxNLIPairsPerClaim: cfg.BudgetDefaults.MaxNLIPairsPerClaim,
		EmbeddingTopK:       cfg.BudgetDefaults.EmbeddingTopK,
	})

	pool := scheduler.NewPool(s, cfg.WorkerCount)
	pool.Limiters = scheduler.NewLimiters(sourceLimitsFrom(cfg))

	auth := authqueue.NewService(s)
	pool.AuthCanceller = auth

	pipeline := search.New(s, gateway, browserDriver, fetcher, fce, pool.Limiters, pool.BrowserSlot, search.Config{
		SerpCacheTTL:       cfg.SerpCacheTTL,
		SerpArmTimeout:     cfg.SerpArmTimeout,
		AcademicArmTimeout: cfg.AcademicArmTimeout,
	})
	pipeline.Breaker = auth.Breaker
	citeHandler := citegraph.New(s, gateway, index)

	pool.RegisterHandler(model.JobTargetQueue, pipeline)
	pool.RegisterHandler(model.JobVerifyNLI, fce)
	pool.RegisterHandler(model.JobCitationGraph, citeHandler)

	pool.Start(ctx)
	defer pool.Stop()

	surface := toolsurface.NewSurface(s, pool, auth, embed, cfg)
	registry := toolsurface.NewRegistry()
	surface.RegisterAll(registry)
	toolServer := toolsurface.NewServer(registry, os.Stdout)

	logger.Info("tool surface ready, reading requests from stdin")
	serveErr := toolServer.Serve(ctx, os.Stdin)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) && !errors.Is(serveErr, io.EOF) {
		logger.Warn("tool surface exited with error", zap.Error(serveErr))
	}
	logger.Info("veritas-server shutting down")
	return nil
}

func buildGenAICollaborators(ctx context.Context, apiKey string) (embedder.Embedder, llmextract.Extractor, nli.Classifier, error) {
	if apiKey == "" {
		return nil, nil, nil, fmt.Errorf("VERITAS_GENAI_API_KEY is not set")
	}
	embed, err := embedder.NewGenAIEmbedder(ctx, apiKey, "", 0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build embedder: %w", err)
	}
	extractor, err := llmextract.NewGenAIExtractor(ctx, apiKey, "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build llm extractor: %w", err)
	}
	classifier, err := nli.NewGenAIClassifier(ctx, apiKey, "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build nli classifier: %w", err)
	}
	return embed, extractor, classifier, nil
}

func sourceLimitsFrom(cfg *config.Config) map[string]scheduler.SourceLimit {
	limits := map[string]scheduler.SourceLimit{}
	add := func(name string, src config.AcademicSourceConfig) {
		if src.RateLimitPerSecond > 0 {
			limits[name] = scheduler.SourceLimit{RPS: src.RateLimitPerSecond, Burst: maxInt(src.Burst, 1)}
		}
	}
	add("semantic_scholar", cfg.Academic.SemanticScholar)
	add("openalex", cfg.Academic.OpenAlex)
	add("crossref", cfg.Academic.Crossref)
	add("arxiv", cfg.Academic.Arxiv)
	return limits
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
