package llm

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yok-tottii/EzVoice/internal/apperr"
)

// Completer turns one prompt into one reply. No conversation state is kept
// between calls.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request modes
const (
	ModeCompletion = "completion"
	ModeChat       = "chat"
)

// Config holds language model configuration
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	PromptPrefix string
	Mode         string
}

// client is the part of the OpenAI client used here
type client interface {
	CreateCompletion(ctx context.Context, request openai.CompletionRequest) (openai.CompletionResponse, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAICompleter implements Completer against an OpenAI-compatible endpoint
type OpenAICompleter struct {
	client client
	config Config
}

// NewOpenAICompleter creates a completer. Base URL and API key must be
// supplied by configuration.
func NewOpenAICompleter(config Config) (*OpenAICompleter, error) {
	const op = "llm.New"

	if config.APIKey == "" {
		return nil, apperr.New(apperr.KindConfig, op, "LLM API key is not configured")
	}
	if config.Model == "" {
		return nil, apperr.New(apperr.KindConfig, op, "LLM model is not configured")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1000
	}
	if config.Mode == "" {
		config.Mode = ModeCompletion
	}
	if config.Mode != ModeCompletion && config.Mode != ModeChat {
		return nil, apperr.Newf(apperr.KindConfig, op, "unknown LLM mode: %s", config.Mode)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Complete sends prompt and returns the trimmed reply
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	const op = "llm.Complete"

	if strings.TrimSpace(prompt) == "" {
		return "", apperr.New(apperr.KindCollaborator, op, "prompt is empty")
	}

	var (
		reply string
		err   error
	)
	if c.config.Mode == ModeChat {
		reply, err = c.chat(ctx, prompt)
	} else {
		reply, err = c.complete(ctx, prompt)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "LLM request failed", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", apperr.New(apperr.KindCollaborator, op, "LLM returned an empty reply")
	}
	return reply, nil
}

func (c *OpenAICompleter) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:     c.config.Model,
		Prompt:    c.config.PromptPrefix + prompt,
		MaxTokens: c.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindCollaborator, "llm.Complete", "response has no choices")
	}
	return resp.Choices[0].Text, nil
}

func (c *OpenAICompleter) chat(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if c.config.PromptPrefix != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.config.PromptPrefix,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.config.Model,
		Messages:  messages,
		MaxTokens: c.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindCollaborator, "llm.Complete", "response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
