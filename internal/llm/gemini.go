package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"jarvis/internal/assistant"
	"jarvis/internal/memory"
)

// Gemini generates text with the Gemini API.
type Gemini struct {
	client *genai.Client
	system string
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingKey
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &Gemini{client: client, system: cfg.SystemPrompt}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string, cfg assistant.GenerationConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, cfg.ModelName, genai.Text(prompt), g.contentConfig(cfg))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func (g *Gemini) Chat(ctx context.Context, history []memory.Turn, prompt string, cfg assistant.GenerationConfig) (string, error) {
	chat, err := g.client.Chats.Create(ctx, cfg.ModelName, g.contentConfig(cfg), geminiHistory(history))
	if err != nil {
		return "", fmt.Errorf("start chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return responseText(resp)
}

func (g *Gemini) contentConfig(cfg assistant.GenerationConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(cfg.Temperature),
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	if g.system != "" {
		gc.SystemInstruction = genai.NewContentFromText(g.system, genai.RoleUser)
	}
	return gc
}

func geminiHistory(turns []memory.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == memory.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Content, role))
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", assistant.ErrEmptyResponse
	}
	text := resp.Text()
	if text == "" {
		return "", assistant.ErrEmptyResponse
	}
	return text, nil
}
