package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

const answerSystemTemplate = "You are an expert in %s. Answer the question based on the following context. Short response only:"

// buildGenerationRequest assembles the prompt pair for one answer. The user
// message always carries all three blocks, empty or not, so the model sees a
// stable shape.
func buildGenerationRequest(expert, conversation string, chunks []domain.RetrievedChunk, query string, opts AnswerOptions) domain.GenerationRequest {
	var user strings.Builder
	user.WriteString("Conversation_history:\n")
	user.WriteString(conversation)
	user.WriteString("\n\nContext:\n")
	for i, chunk := range chunks {
		if i > 0 {
			user.WriteString("\n\n")
		}
		user.WriteString(chunk.Text)
	}
	user.WriteString("\n\nQuestion: ")
	user.WriteString(query)

	return domain.GenerationRequest{
		System:      fmt.Sprintf(answerSystemTemplate, expert),
		User:        user.String(),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}
