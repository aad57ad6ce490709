package ports

import (
	"context"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into overlapping chunks.
type Chunker interface {
	Split(text string) []string
}

// VectorStore indexes chunks into per-expert collections and performs
// semantic search within one collection.
type VectorStore interface {
	UpsertChunks(ctx context.Context, collection string, records []domain.ChunkRecord) error
	Search(ctx context.Context, collection string, queryVector []float32, limit int) ([]domain.RetrievedChunk, error)
}

// AnswerGenerator produces the final user-facing answer text.
type AnswerGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// SessionStore is the serving-side view of conversation sessions. Reads hit
// memory only; writes go through to the durable exchange log, with log
// failures absorbed and reported out of band.
type SessionStore interface {
	Context(sessionID string) string
	History(sessionID string) []domain.Exchange
	Append(ctx context.Context, sessionID string, ex domain.Exchange) error
	Clear(ctx context.Context, sessionID string) error
}

// ExchangeLog is the durable append log behind the session store.
type ExchangeLog interface {
	Append(ctx context.Context, sessionID string, ex domain.Exchange) error
	Clear(ctx context.Context, sessionID string) error
	LoadAll(ctx context.Context) ([]domain.Session, error)
}

// TrackingStore persists the ingestion tracking state.
type TrackingStore interface {
	Load(ctx context.Context) (*domain.TrackingState, error)
	Save(ctx context.Context, state *domain.TrackingState) error
	Reset(ctx context.Context) error
}

// SnapshotStore persists and reloads the routing snapshot artifact.
type SnapshotStore interface {
	Write(ctx context.Context, snap *domain.Snapshot) error
	Load(ctx context.Context) (*domain.Snapshot, error)
}

// CorpusSource discovers corpus files and extracts their text.
type CorpusSource interface {
	Scan(ctx context.Context) ([]domain.CorpusFile, error)
	Extract(ctx context.Context, file domain.CorpusFile) (string, error)
}

// EventBus carries ingestion coordination events between processes.
type EventBus interface {
	PublishIndexRequested(ctx context.Context, reason string) error
	SubscribeIndexRequested(ctx context.Context, handler func(context.Context, string) error) error
	PublishSnapshotUpdated(ctx context.Context, passID string) error
	SubscribeSnapshotUpdated(ctx context.Context, handler func(context.Context, string) error) error
}
