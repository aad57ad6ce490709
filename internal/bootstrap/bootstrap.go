package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kirillkom/expert-router/internal/config"
	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/core/ports"
	"github.com/kirillkom/expert-router/internal/core/usecase"
	"github.com/kirillkom/expert-router/internal/infrastructure/chunking"
	"github.com/kirillkom/expert-router/internal/infrastructure/corpus/local"
	"github.com/kirillkom/expert-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/expert-router/internal/infrastructure/llm/openai"
	"github.com/kirillkom/expert-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/expert-router/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/expert-router/internal/infrastructure/resilience"
	"github.com/kirillkom/expert-router/internal/infrastructure/session"
	"github.com/kirillkom/expert-router/internal/infrastructure/state/localfs"
	"github.com/kirillkom/expert-router/internal/infrastructure/vector/chroma"
	"github.com/kirillkom/expert-router/internal/observability/metrics"
)

// API bundles everything the serving process needs.
type API struct {
	Config config.Config

	AnswerUC  ports.QueryAnswerer
	Router    ports.ExpertRouter
	Sessions  ports.SessionStore
	Snapshots ports.SnapshotStore
	Bus       ports.EventBus
	Metrics   *metrics.APIMetrics

	closeFn func()
}

// NewAPI wires the serving process. A missing or unreadable routing
// snapshot is not fatal: the API starts with an empty router and answers
// 503 until an ingestion pass announces a fresh snapshot.
func NewAPI(ctx context.Context, cfg config.Config) (*API, error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	embedder, err := newEmbedder(cfg, executor)
	if err != nil {
		return nil, err
	}

	generator, err := openai.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIGenModel, executor)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}

	vectorDB := chroma.New(cfg.ChromaURL)

	exchangeLog, closeLog, err := newExchangeLog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(exchangeLog, cfg.SessionMaxExchanges, cfg.SessionContextQueries)

	snapshots, err := localfs.NewSnapshotStore(cfg.SnapshotFile)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	router := usecase.NewRouter(loadSnapshot(ctx, snapshots))

	bus, err := nats.New(cfg.NATSURL, cfg.NATSIndexSubject, cfg.NATSReloadSubject)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	answerUC := usecase.NewAnswerUseCase(router, embedder, vectorDB, generator, sessions, usecase.AnswerOptions{
		TopK:              cfg.RAGTopK,
		RouteWithContext:  cfg.RouteWithContext,
		GenerationTimeout: time.Duration(cfg.GenTimeoutSeconds) * time.Second,
		Temperature:       float32(cfg.GenTemperature),
		MaxTokens:         cfg.GenMaxTokens,
	})

	return &API{
		Config: cfg,

		AnswerUC:  answerUC,
		Router:    router,
		Sessions:  sessions,
		Snapshots: snapshots,
		Bus:       bus,
		Metrics:   metrics.NewAPIMetrics("api"),

		closeFn: func() {
			bus.Close()
			closeLog()
		},
	}, nil
}

func (a *API) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Indexer bundles the ingestion process dependencies. Watcher is nil unless
// corpus watching is enabled.
type Indexer struct {
	Config config.Config

	IndexUC ports.IndexRunner
	Bus     ports.EventBus
	Watcher *local.Watcher
	Metrics *metrics.IndexerMetrics

	closeFn func()
}

func NewIndexer(ctx context.Context, cfg config.Config) (*Indexer, error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	source, err := local.NewSource(cfg.CorpusDir)
	if err != nil {
		return nil, fmt.Errorf("init corpus source: %w", err)
	}

	embedder, err := newEmbedder(cfg, executor)
	if err != nil {
		return nil, err
	}

	vectorDB := chroma.New(cfg.ChromaURL)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	tracking, err := localfs.NewTrackingStore(cfg.TrackingFile)
	if err != nil {
		return nil, fmt.Errorf("init tracking store: %w", err)
	}
	snapshots, err := localfs.NewSnapshotStore(cfg.SnapshotFile)
	if err != nil {
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, cfg.NATSIndexSubject, cfg.NATSReloadSubject)
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	indexUC := usecase.NewIndexUseCase(source, chunker, embedder, vectorDB, tracking, snapshots, bus)

	var watcher *local.Watcher
	if cfg.CorpusWatch {
		watcher, err = local.NewWatcher(cfg.CorpusDir, 0)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("init corpus watcher: %w", err)
		}
	}

	return &Indexer{
		Config: cfg,

		IndexUC: indexUC,
		Bus:     bus,
		Watcher: watcher,
		Metrics: metrics.NewIndexerMetrics("indexer"),

		closeFn: func() {
			bus.Close()
		},
	}, nil
}

func (i *Indexer) Close() {
	if i.closeFn != nil {
		i.closeFn()
	}
}

// Evaluator wires the offline accuracy check. Unlike the API it refuses to
// start without a snapshot; evaluating an empty router is meaningless.
type Evaluator struct {
	Config config.Config

	EvalUC ports.AccuracyEvaluator
}

func NewEvaluator(ctx context.Context, cfg config.Config) (*Evaluator, error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	embedder, err := newEmbedder(cfg, executor)
	if err != nil {
		return nil, err
	}

	snapshots, err := localfs.NewSnapshotStore(cfg.SnapshotFile)
	if err != nil {
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	snap, err := snapshots.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load routing snapshot: %w", err)
	}

	return &Evaluator{
		Config: cfg,
		EvalUC: usecase.NewEvaluateUseCase(usecase.NewRouter(snap), embedder),
	}, nil
}

func newEmbedder(cfg config.Config, executor *resilience.Executor) (ports.Embedder, error) {
	switch cfg.EmbedDriver {
	case "", "ollama":
		return ollama.NewEmbedder(cfg.OllamaURL, cfg.OllamaEmbedModel, executor), nil
	case "openai":
		embedder, err := openai.NewEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIEmbedModel, executor)
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return embedder, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "select embed driver",
			fmt.Errorf("unknown driver %q", cfg.EmbedDriver))
	}
}

func newExchangeLog(ctx context.Context, cfg config.Config) (ports.ExchangeLog, func(), error) {
	switch cfg.SessionLogDriver {
	case "", "jsonl":
		exchangeLog, err := localfs.NewExchangeLog(cfg.SessionLogDir, cfg.SessionMaxExchanges)
		if err != nil {
			return nil, nil, fmt.Errorf("init session log: %w", err)
		}
		return exchangeLog, func() {}, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewSessionRepository(db, cfg.SessionMaxExchanges)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure session schema: %w", err)
		}
		return repo, func() { _ = db.Close() }, nil
	default:
		return nil, nil, domain.WrapError(domain.ErrConfiguration, "select session log driver",
			fmt.Errorf("unknown driver %q", cfg.SessionLogDriver))
	}
}

func loadSnapshot(ctx context.Context, snapshots ports.SnapshotStore) *domain.Snapshot {
	snap, err := snapshots.Load(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("snapshot_missing_at_startup")
		} else {
			slog.Warn("snapshot_load_failed", "error", err)
		}
		return nil
	}
	return snap
}
