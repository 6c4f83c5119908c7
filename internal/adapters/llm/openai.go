package llm

import (
	"context"
	"fmt"
	"strings"

	"channel-pulse/internal/domain"
	openai "channel-pulse/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует domain.CompletionService через OpenAI Chat Completions.
type OpenAI struct {
	client chatClient
	model  string
}

var _ domain.CompletionService = (*OpenAI)(nil)

// NewOpenAI создаёт провайдер генерации.
func NewOpenAI(client chatClient, model string) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &OpenAI{client: client, model: model}
}

// Complete выполняет один запрос к модели и возвращает текст ответа.
func (s *OpenAI) Complete(ctx context.Context, systemPrompt, userPrompt, schemaHint string) (string, error) {
	if schemaHint != "" {
		userPrompt = userPrompt + "\n\nОтвет верни строго в формате JSON: " + schemaHint
	}
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.2,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: userPrompt},
		},
	}
	if schemaHint != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: пустой ответ")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
