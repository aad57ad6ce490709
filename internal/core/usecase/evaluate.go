package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/core/ports"
)

// EvaluateUseCase replays a labeled query set through the router and tallies
// routing accuracy per expected expert. It only reads the snapshot; nothing
// about serving state changes during an evaluation.
type EvaluateUseCase struct {
	router   ports.ExpertRouter
	embedder ports.Embedder
}

func NewEvaluateUseCase(router ports.ExpertRouter, embedder ports.Embedder) *EvaluateUseCase {
	return &EvaluateUseCase{
		router:   router,
		embedder: embedder,
	}
}

func (uc *EvaluateUseCase) Evaluate(ctx context.Context, set domain.EvalSet) (*domain.EvalReport, error) {
	experts := make([]string, 0, len(set))
	for expert := range set {
		experts = append(experts, expert)
	}
	sort.Strings(experts)

	report := domain.NewEvalReport()
	for _, expected := range experts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, query := range set[expected] {
			embedding, err := uc.embedder.EmbedQuery(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("embed sample %q: %w", query, err)
			}
			res, err := uc.router.RouteChecked(embedding, expected)
			if err != nil {
				return nil, err
			}
			report.Record(expected, res.Expert)
		}
	}
	return report, nil
}
