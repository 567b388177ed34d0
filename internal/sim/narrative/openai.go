package narrative

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = openai.GPT4oMini

// OpenAI is a Generator backed by a chat completion endpoint. BaseURL
// overrides point it at any OpenAI-compatible server.
type OpenAI struct {
	Model       string
	MaxTokens   int
	Temperature float32

	client *openai.Client
}

// NewOpenAI builds a client; empty baseURL and model use the OpenAI defaults
// and a nil hc uses the library's HTTP client.
func NewOpenAI(apiKey, baseURL, model string, hc *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{
		Model:       model,
		MaxTokens:   150,
		Temperature: 0.7,
		client:      openai.NewClientWithConfig(cfg),
	}
}

// OpenAIFromEnv returns nil when OPENAI_API_KEY is unset.
func OpenAIFromEnv() *OpenAI {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil
	}
	return NewOpenAI(key, os.Getenv("CITY_LLM_BASE_URL"), strings.TrimSpace(os.Getenv("CITY_LLM_MODEL")), nil)
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmpty
	}
	return resp.Choices[0].Message.Content, nil
}
