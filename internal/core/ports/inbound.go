package ports

import (
	"context"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// QueryAnswerer is the inbound contract for the full query cycle: route,
// retrieve, generate, record.
type QueryAnswerer interface {
	Answer(ctx context.Context, req domain.AskRequest) (*domain.Answer, error)
}

// ExpertRouter dispatches an embedding to the nearest expert via its group.
// Implementations serve from an in-memory snapshot and never block.
type ExpertRouter interface {
	Route(embedding []float32) (*domain.RouteResult, error)
	RouteChecked(embedding []float32, expectedExpert string) (*domain.RouteResult, error)
	Reload(snap *domain.Snapshot)
	Snapshot() *domain.Snapshot
}

// IndexRunner executes one exclusive ingestion pass over the corpus.
type IndexRunner interface {
	RunPass(ctx context.Context) (*domain.PassReport, error)
}

// AccuracyEvaluator measures routing accuracy against a labeled query set.
type AccuracyEvaluator interface {
	Evaluate(ctx context.Context, set domain.EvalSet) (*domain.EvalReport, error)
}
