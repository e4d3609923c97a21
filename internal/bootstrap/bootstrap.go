package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"

	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/usecase"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/cache"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/embedcache"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/ingest"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/lexical"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector/memory"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector/pgstore"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector/qdrant"
)

// BackendObserver receives retry and breaker events from backend calls.
type BackendObserver interface {
	ObserveRetry(operation string)
	SetBreakerState(operation, state string)
}

type Options struct {
	// Observer receives pipeline metrics. Nil disables them.
	Observer ports.PipelineObserver
	// Backend receives backend retry and breaker metrics. Nil disables them.
	Backend BackendObserver
	// WithoutEvents skips the NATS connection for one-shot command line runs.
	WithoutEvents bool
	// ServiceName identifies the NATS connection.
	ServiceName string
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	// Events is nil when NATS is disabled.
	Events ports.CorpusEvents
	// AnswerLog is nil when the answer log is disabled.
	AnswerLog *postgres.AnswerLogRepository

	Holder  *usecase.CorpusHolder
	Loader  *usecase.CorpusLoader
	Answers *usecase.AnswerUseCase
	Ingest  *usecase.IngestCorpusUseCase
	Indexer *usecase.IndexCorpusUseCase

	closers []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (app *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = ports.NopObserver{}
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	executor := resilience.NewExecutor(resilienceConfig(cfg), logger, backendHooks(opts.Backend)...)

	var db *sql.DB
	needDB := cfg.AnswerLogEnabled || cfg.VectorStore == config.VectorStorePGVector
	if cfg.PostgresDSN != "" && needDB {
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
	}

	embedder, generator, model := newBackend(cfg, executor, logger)
	if cfg.EmbedCachePath != "" {
		cacheDB, err := embedcache.Open(cfg.EmbedCachePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = cacheDB.Close() })
		embedder, err = cachedEmbedder(cacheDB, model, embedder)
		if err != nil {
			return nil, err
		}
	}

	vectors, err := newVectorIndex(ctx, cfg, db, executor, logger)
	if err != nil {
		return nil, err
	}

	var answerLog ports.AnswerLog
	if cfg.AnswerLogEnabled && db != nil {
		repo := postgres.NewAnswerLogRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure answer log schema: %w", err)
		}
		a.AnswerLog = repo
		answerLog = repo
	}

	if cfg.NATSURL != "" && !opts.WithoutEvents {
		events, err := nats.New(cfg.NATSURL, nats.Options{
			Name:               opts.ServiceName,
			ReindexSubject:     cfg.NATSReindexSubject,
			UpdatedSubject:     cfg.NATSUpdatedSubject,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init corpus events: %w", err)
		}
		a.closers = append(a.closers, events.Close)
		a.Events = events
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}
	chunkStore := ingest.NewChunkStore(storage, cfg.ChunksKey)

	a.Holder = usecase.NewCorpusHolder(lexical.Builder(lexical.DefaultParams()))
	a.Loader = usecase.NewCorpusLoader(chunkStore, a.Holder, observer, logger)

	var retrievalCache ports.RetrievalCache
	if cfg.RetrievalCacheSize > 0 {
		retrievalCache = cache.NewRetrievalCache(cfg.RetrievalCacheSize, cfg.RetrievalCacheTTL)
	}
	retriever := usecase.NewRetriever(a.Holder, embedder, vectors, retrievalCache, cfg.Pipeline, observer, logger)
	a.Answers = usecase.NewAnswerUseCase(retriever, generator, answerLog, cfg.Pipeline, observer, logger)

	loader := ingest.NewDirLoader(cfg.CorpusDir, cfg.CorpusIncludes, cfg.CorpusExcludes, logger)
	a.Ingest = usecase.NewIngestCorpusUseCase(loader, chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap), chunkStore)
	a.Indexer = usecase.NewIndexCorpusUseCase(a.Ingest, embedder, vectors, a.Events, cfg.EmbedBatchSize, logger)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	rc.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	rc.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return rc
}

func backendHooks(observer BackendObserver) []resilience.Option {
	if observer == nil {
		return nil
	}
	return []resilience.Option{resilience.WithHooks(resilience.Hooks{
		OnRetry: func(operation string, _ int, _ error) {
			observer.ObserveRetry(operation)
		},
		OnBreakerChange: observer.SetBreakerState,
	})}
}

func newBackend(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.Embedder, ports.AnswerBackend, string) {
	if cfg.GenerationBackend == config.BackendOpenAI {
		client := openaicompat.New(openaicompat.Options{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			GenModel:    cfg.OpenAIGenModel,
			EmbedModel:  cfg.OpenAIEmbedModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxAnswerTokens,
			Timeout:     cfg.BackendTimeout,
		}, executor, logger)
		return openaicompat.NewEmbedder(client), openaicompat.NewGenerator(client), cfg.OpenAIEmbedModel
	}

	client := ollama.New(cfg.OllamaURL, ollama.Options{
		GenModel:    cfg.OllamaGenModel,
		EmbedModel:  cfg.OllamaEmbedModel,
		Temperature: cfg.Temperature,
		NumPredict:  cfg.MaxAnswerTokens,
		Timeout:     cfg.BackendTimeout,
	}, executor, logger)
	return ollama.NewEmbedder(client), ollama.NewGenerator(client), cfg.OllamaEmbedModel
}

func cachedEmbedder(db *bbolt.DB, model string, inner ports.Embedder) (ports.Embedder, error) {
	cached, err := embedcache.New(db, model, inner)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func newVectorIndex(ctx context.Context, cfg config.Config, db *sql.DB, executor *resilience.Executor, logger *slog.Logger) (ports.VectorIndex, error) {
	switch cfg.VectorStore {
	case config.VectorStorePGVector:
		if db == nil {
			return nil, fmt.Errorf("vector store %q requires POSTGRES_DSN", cfg.VectorStore)
		}
		store := pgstore.New(db, cfg.EmbeddingDim)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure vector schema: %w", err)
		}
		return store, nil
	case config.VectorStoreMemory:
		return memory.New(), nil
	default:
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor, logger), nil
	}
}
