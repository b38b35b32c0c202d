package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaiapi "github.com/sashabaranov/go-openai"

	"github.com/ashureev/agora-labs/internal/config"
	"github.com/ashureev/agora-labs/internal/domain"
)

// OpenAI generates replies through the chat completions API.
type OpenAI struct {
	api       *openaiapi.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(cfg config.GeneratorConfig) (*OpenAI, error) {
	if cfg.OpenAIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := openaiapi.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &OpenAI{
		api:       openaiapi.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, profile domain.Profile, history []domain.Entry) (domain.Response, error) {
	req := openaiapi.ChatCompletionRequest{
		Model:               o.model,
		MaxCompletionTokens: o.maxTokens,
		Messages:            buildMessages(profile, history),
	}

	resp, err := o.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Response{}, fmt.Errorf("openai completion for %s: %w", profile.ID, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Response{}, errors.New("openai returned empty response")
	}

	return domain.Response{
		AgentID: profile.ID,
		Text:    strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}

func systemPrompt(p domain.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Stay in character.\n", p.Name)
	fmt.Fprintf(&b, "Tone: %s.\n", p.Tone)
	if len(p.SamplePrompts) > 0 {
		b.WriteString("Things you might say:\n")
		for _, s := range p.SamplePrompts {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("Other participants' lines are prefixed with their id.")
	return b.String()
}

func buildMessages(p domain.Profile, history []domain.Entry) []openaiapi.ChatCompletionMessage {
	msgs := make([]openaiapi.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openaiapi.ChatCompletionMessage{
		Role:    openaiapi.ChatMessageRoleSystem,
		Content: systemPrompt(p),
	})

	for _, e := range history {
		switch {
		case e.Role == domain.RoleAgent && e.AgentID == p.ID:
			msgs = append(msgs, openaiapi.ChatCompletionMessage{
				Role:    openaiapi.ChatMessageRoleAssistant,
				Content: e.Content,
			})
		case e.Role == domain.RoleAgent:
			msgs = append(msgs, openaiapi.ChatCompletionMessage{
				Role:    openaiapi.ChatMessageRoleUser,
				Content: e.AgentID + ": " + e.Content,
			})
		default:
			msgs = append(msgs, openaiapi.ChatCompletionMessage{
				Role:    openaiapi.ChatMessageRoleUser,
				Content: e.Content,
			})
		}
	}
	return msgs
}
