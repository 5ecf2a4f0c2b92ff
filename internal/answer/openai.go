package answer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIModel is the production ChatModel backed by OpenAI chat
// completions.
type OpenAIModel struct {
	client      *openai.Client
	model       openai.ChatModel
	temperature float64
}

// NewOpenAIModel wraps an existing client. The temperature matches the
// answering behavior tuned for document Q&A.
func NewOpenAIModel(client *openai.Client) *OpenAIModel {
	return &OpenAIModel{
		client:      client,
		model:       openai.ChatModelGPT4o,
		temperature: 0.6,
	}
}

// Complete runs one chat completion and returns the response text.
func (m *OpenAIModel) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       m.model,
		Temperature: openai.Float(m.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
