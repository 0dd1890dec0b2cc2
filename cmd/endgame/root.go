package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"endgame/internal/config"
	"endgame/internal/embedding"
	"endgame/internal/evolution"
	"endgame/internal/ingestion"
	"endgame/internal/logging"
	"endgame/internal/memory"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/vector"
)

var (
	// Global flags
	configPath string
	userID     string
	verbose    bool

	// Loaded by PersistentPreRunE before any RunE fires.
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "endgame",
	Short: "endgame - personal strategic knowledge engine",
	Long: `endgame keeps a five-tier strategic graph (Self, Vision, Goal, Project,
Task) next to a semantic vector index, both fed by an LLM extraction
layer. Chat turns and uploaded files become structured memory; a nightly
reflection cycle turns the day's logs into reusable strategies.

This CLI administers the engine: set the vision, ingest files, review
staged knowledge, inspect graph views, and run the maintenance cycles.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Configure(logging.Settings{
			Enabled:    cfg.Logging.Enabled,
			Dir:        cfg.LogDir(),
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.Format == "json",
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "endgame.yaml", "Config file (missing file falls back to defaults)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default_user", "User the command acts for")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(visionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(stagingCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(nightlyCmd)
	rootCmd.AddCommand(guidanceCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(watchCmd)
}

// openGraph opens the relational graph store for commands that never touch
// vectors or models.
func openGraph() (*store.GraphStore, error) {
	graph, err := store.NewGraphStore(cfg.BrainDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	return graph, nil
}

// openStores opens both databases.
func openStores() (*store.GraphStore, *vector.Store, error) {
	graph, err := openGraph()
	if err != nil {
		return nil, nil, err
	}
	vectors, err := vector.NewStore(cfg.VectorDBPath(), cfg.Embedding.Dimension)
	if err != nil {
		graph.Close()
		return nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return graph, vectors, nil
}

// engine is the full model-backed stack behind the heavier commands. The
// CLI only routes calls into it; the behavior lives in the library.
type engine struct {
	graph     *store.GraphStore
	vectors   *vector.Store
	embedder  embedding.Engine
	client    perception.LLMClient
	extractor *perception.Extractor
	memory    *memory.Service
	pipeline  *ingestion.Orchestrator
	evolution *evolution.Service
}

// openEngine wires stores, embedder, LLM client and the services on top.
func openEngine() (*engine, error) {
	graph, vectors, err := openStores()
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		vectors.Close()
		graph.Close()
		return nil, fmt.Errorf("failed to build embedding engine: %w", err)
	}

	client, err := perception.NewGuardedClient(cfg.LLM)
	if err != nil {
		vectors.Close()
		graph.Close()
		return nil, fmt.Errorf("failed to build LLM client: %w", err)
	}
	extractor := perception.NewExtractor(client).
		WithTimeouts(cfg.ExtractionTimeout(), cfg.ShortLLMTimeout())

	return &engine{
		graph:     graph,
		vectors:   vectors,
		embedder:  embedder,
		client:    client,
		extractor: extractor,
		memory:    memory.NewService(graph, vectors, embedder, extractor, cfg.CoreKeywords),
		pipeline: ingestion.NewOrchestrator(graph, vectors, embedder, extractor, ingestion.NewJobs(), ingestion.Options{
			ChunkSize:            cfg.ChunkSize,
			ChunkOverlap:         cfg.ChunkOverlap,
			ConcurrentExtractors: cfg.ConcurrentExtractors,
			CoreKeywords:         cfg.CoreKeywords,
		}),
		evolution: evolution.NewService(graph, vectors, embedder, client, cfg.NightlyCycleHour),
	}, nil
}

// Close releases both database handles.
func (e *engine) Close() {
	if e.vectors != nil {
		e.vectors.Close()
	}
	if e.graph != nil {
		e.graph.Close()
	}
}

// signalContext derives a context cancelled by SIGINT or SIGTERM so long
// running commands shut down cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
