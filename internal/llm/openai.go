package llm

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"jarvis/internal/assistant"
	"jarvis/internal/memory"
)

// OpenAI generates text through any OpenAI-compatible chat completions API.
type OpenAI struct {
	client openai.Client
	system string
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingKey
	}
	return &OpenAI{
		client: openai.NewClient(ClientOptions(cfg)...),
		system: cfg.SystemPrompt,
	}, nil
}

// ClientOptions maps cfg onto openai-go request options.
func ClientOptions(cfg Config) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return opts
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, cfg assistant.GenerationConfig) (string, error) {
	return o.Chat(ctx, nil, prompt, cfg)
}

func (o *OpenAI) Chat(ctx context.Context, history []memory.Turn, prompt string, cfg assistant.GenerationConfig) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if o.system != "" {
		msgs = append(msgs, openai.SystemMessage(o.system))
	}
	for _, t := range history {
		if t.Role == memory.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    msgs,
		Model:       openai.ChatModel(cfg.ModelName),
		Temperature: openai.Float(float64(cfg.Temperature)),
		MaxTokens:   openai.Int(int64(cfg.MaxOutputTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", assistant.ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
