// legalrag is the operational CLI for the legal-compliance assistant: index
// knowledge documents, chat against the corpus, run contract reviews, and
// inspect sessions and store statistics.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"legalrag/internal/chat"
	"legalrag/internal/config"
	"legalrag/internal/docparse"
	"legalrag/internal/embedding"
	"legalrag/internal/knowledge"
	"legalrag/internal/llm"
	"legalrag/internal/logging"
	"legalrag/internal/memory"
	"legalrag/internal/rag"
	"legalrag/internal/review"
	"legalrag/internal/store"
	"legalrag/internal/textproc"
)

var (
	// Global flags
	verbose   bool
	workspace string
	owner     string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "legalrag",
	Short: "legalrag - legal compliance assistant backend",
	Long: `legalrag answers legal questions against an indexed knowledge base and
reviews contracts for risk clauses.

Knowledge flows in through 'index' or 'watch'; questions flow through 'chat';
contracts flow through 'review'. All state lives under <workspace>/.legalrag.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// app holds the wired service graph shared by the commands.
type app struct {
	cfg        config.Config
	db         *store.LocalStore
	rdb        *redis.Client
	windows    *memory.Windows
	embedder   embedding.Engine
	dispatcher *llm.Dispatcher
	advanced   *chat.AdvancedService
	unified    *chat.Unified
	indexer    *knowledge.Indexer
	reviews    *review.Engine
}

// newApp wires the full pipeline from configuration.
func newApp() (*app, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(workspace, logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		return nil, err
	}

	db, err := store.NewLocalStore(resolvePath(cfg.Storage.DatabasePath))
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, err
	}

	dispatcher := llm.NewDispatcher(cfg.LLM, cfg.Timeouts)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Memory.RedisAddr, DB: cfg.Memory.RedisDB})
	windows := memory.New(rdb, cfg.Memory.WindowSize)

	retriever := rag.NewRetriever(rag.RetrieverLegal, embedder, db, cfg.RAG.TopK, store.SearchFilter{}).
		WithTimeouts(cfg.Timeouts.Embed.Std(), cfg.Timeouts.Search.Std())
	clauseRetriever := rag.NewRetriever(rag.RetrieverContract, embedder, db, cfg.RAG.TopK,
		store.SearchFilter{ContentType: rag.TypeContractClause}).
		WithTimeouts(cfg.Timeouts.Embed.Std(), cfg.Timeouts.Search.Std())
	aggregator := rag.NewAggregator(cfg.Aggregator.MaxResults, cfg.Aggregator.SimilarityThreshold, cfg.Aggregator.RRFK)
	advanced := chat.NewAdvancedService(
		map[string]*rag.Retriever{
			rag.RetrieverLegal:    retriever,
			rag.RetrieverContract: clauseRetriever,
		},
		aggregator, dispatcher, dispatcher.Default(),
	)
	unified := chat.NewUnified(db, windows, advanced, dispatcher, retriever).
		WithPersistTimeout(cfg.Timeouts.Persist.Std())

	proc, err := textproc.NewProcessor(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.Embedding.MaxTokens)
	if err != nil {
		db.Close()
		return nil, err
	}
	parser := docparse.NewParser(cfg.Review.MaxFileSize)
	indexer := knowledge.NewIndexer(db, parser, proc, embedder)

	reviews := review.NewEngine(db, parser, proc, embedder, advanced, dispatcher,
		dispatcher.Default(), cfg.Review, resolvePath(cfg.Storage.UploadDir), cfg.Timeouts.Stream.Std())

	return &app{
		cfg:        cfg,
		db:         db,
		rdb:        rdb,
		windows:    windows,
		embedder:   embedder,
		dispatcher: dispatcher,
		advanced:   advanced,
		unified:    unified,
		indexer:    indexer,
		reviews:    reviews,
	}, nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	logging.CloseAll()
}

// resolvePath anchors a config-relative path at the workspace.
func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

func init() {
	wd, _ := os.Getwd()
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", wd, "workspace directory")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "local", "owner identity for sessions and reviews")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
