package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/infrastructure/resilience"
)

// Generator produces answers through the OpenAI chat completions API.
type Generator struct {
	client   *openai.Client
	model    string
	executor *resilience.Executor
}

func NewGenerator(apiKey, baseURL, model string, executor *resilience.Executor) (*Generator, error) {
	client, err := newClient(apiKey, baseURL)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "openai generator", err)
	}
	return &Generator{client: client, model: model, executor: executor}, nil
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	// The wire encoding drops a zero temperature field, which the API reads
	// as its 1.0 default. The smallest positive float stands in for zero.
	temperature := req.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}

	var text string
	err := g.executor.Execute(ctx, "openai_generate", func(ctx context.Context) error {
		resp, err := g.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no completion choices returned")
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	}, classifyOpenAIError)
	if err != nil {
		return "", domain.WrapError(domain.ErrGeneration, "chat completion", err)
	}
	return text, nil
}

func newClient(apiKey, baseURL string) (*openai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key is empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg), nil
}
