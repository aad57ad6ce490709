package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/core/ports"
)

const (
	// ClearAcknowledgement answers the session reset command.
	ClearAcknowledgement = "Session cleared."
	// DegradedAnswer stands in when the generation collaborator fails.
	DegradedAnswer = "I could not generate an answer right now. Please try again in a moment."

	DegradedStageRetrieval  = "retrieval"
	DegradedStageGeneration = "generation"
)

// AnswerOptions tune the per-query cycle. Zero values fall back to the
// defaults the corpus was built around.
type AnswerOptions struct {
	TopK              int
	RouteWithContext  bool
	GenerationTimeout time.Duration
	Temperature       float32
	MaxTokens         int
}

func (o AnswerOptions) normalize() AnswerOptions {
	out := o
	if out.TopK <= 0 {
		out.TopK = 3
	}
	if out.GenerationTimeout <= 0 {
		out.GenerationTimeout = 30 * time.Second
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 300
	}
	return out
}

// AnswerUseCase runs the full query cycle: session context, two-stage
// routing, per-expert retrieval, bounded generation, exchange recording.
// Retrieval and generation failures degrade the response instead of
// propagating; only an empty routing snapshot aborts a query.
type AnswerUseCase struct {
	router    ports.ExpertRouter
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	generator ports.AnswerGenerator
	sessions  ports.SessionStore
	opts      AnswerOptions
}

func NewAnswerUseCase(
	router ports.ExpertRouter,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	generator ports.AnswerGenerator,
	sessions ports.SessionStore,
	opts AnswerOptions,
) *AnswerUseCase {
	return &AnswerUseCase{
		router:    router,
		embedder:  embedder,
		vectorDB:  vectorDB,
		generator: generator,
		sessions:  sessions,
		opts:      opts.normalize(),
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer query", errors.New("empty query"))
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = domain.DefaultSessionID
	}

	// Control command: reset the session, never route or record.
	if domain.IsClearCommand(query) {
		if err := uc.sessions.Clear(ctx, sessionID); err != nil {
			slog.Warn("session_clear_failed", "session_id", sessionID, "error", err)
		}
		return &domain.Answer{Text: ClearAcknowledgement}, nil
	}

	conversation := uc.sessions.Context(sessionID)

	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed query", err)
	}

	routingVector := queryVector
	if uc.opts.RouteWithContext && conversation != "" {
		routingVector, err = uc.embedder.EmbedQuery(ctx, conversation+" "+query)
		if err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "embed routing context", err)
		}
	}

	var route *domain.RouteResult
	if req.CheckAccuracy {
		route, err = uc.router.RouteChecked(routingVector, req.ExpectedExpert)
	} else {
		route, err = uc.router.Route(routingVector)
	}
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		Group:   route.Group,
		Expert:  route.Expert,
		Correct: route.Correct,
		Score:   route.Score,
	}

	// Retrieval always uses the raw query embedding, independent of the
	// routing embedding choice.
	chunks, err := uc.vectorDB.Search(ctx, route.Expert, queryVector, uc.opts.TopK)
	if err != nil {
		slog.Warn("retrieval_degraded",
			"expert", route.Expert,
			"error", domain.WrapError(domain.ErrRetrieval, "search expert collection", err),
		)
		chunks = nil
		answer.Degraded = append(answer.Degraded, DegradedStageRetrieval)
	}
	answer.Sources = len(chunks)

	genCtx, cancel := context.WithTimeout(ctx, uc.opts.GenerationTimeout)
	defer cancel()
	text, err := uc.generator.Generate(genCtx, buildGenerationRequest(route.Expert, conversation, chunks, query, uc.opts))
	if err != nil {
		slog.Warn("generation_degraded",
			"expert", route.Expert,
			"error", domain.WrapError(domain.ErrGeneration, "generate answer", err),
		)
		answer.Text = DegradedAnswer
		answer.Sources = 0
		answer.Degraded = append(answer.Degraded, DegradedStageGeneration)
	} else {
		answer.Text = text
	}

	exchange := domain.Exchange{
		Query:     query,
		Answer:    answer.Text,
		Expert:    route.Expert,
		Context:   conversation,
		Timestamp: time.Now().UTC(),
	}
	if err := uc.sessions.Append(ctx, sessionID, exchange); err != nil {
		slog.Warn("session_append_failed",
			"session_id", sessionID,
			"error", domain.WrapError(domain.ErrSessionLog, "append exchange", err),
		)
	}

	return answer, nil
}
