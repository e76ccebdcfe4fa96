package recognition

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio"
)

// Recognizer is the interface for speech recognition
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string, language string) (string, error)
}

// Languages lists the accepted language hints. "auto" lets the model detect it.
var Languages = []string{"auto", "zh", "en", "yue", "ja", "ko"}

// Config holds recognition configuration
type Config struct {
	BaseURL string
	APIKey  string
	Model   string // Default: "whisper-1"
}

// DefaultConfig returns the default recognition configuration
func DefaultConfig() Config {
	return Config{
		Model: "whisper-1",
	}
}

// transcriber is the part of the OpenAI client used here
type transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAIRecognizer implements Recognizer against an OpenAI-compatible
// transcription endpoint
type OpenAIRecognizer struct {
	client transcriber
	model  string
}

// NewOpenAIRecognizer creates a recognizer from config
func NewOpenAIRecognizer(config Config) (*OpenAIRecognizer, error) {
	if config.APIKey == "" {
		return nil, apperr.New(apperr.KindConfig, "recognition.New", "ASR API key is not configured")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = DefaultConfig().Model
	}

	return &OpenAIRecognizer{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Transcribe sends the WAV file at audioPath for transcription
func (r *OpenAIRecognizer) Transcribe(ctx context.Context, audioPath string, language string) (string, error) {
	const op = "recognition.Transcribe"

	if err := ValidateLanguage(language); err != nil {
		return "", err
	}

	info, err := audio.ReadWAVInfo(audioPath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "recording is not a readable WAV file", err)
	}
	if info.DataSize == 0 {
		return "", apperr.New(apperr.KindCollaborator, op, "recording is empty")
	}

	req := openai.AudioRequest{
		Model:    r.model,
		FilePath: audioPath,
	}
	if language != "auto" {
		req.Language = language
	}

	resp, err := r.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "transcription request failed", err)
	}

	return CleanTranscript(resp.Text), nil
}

// ValidateLanguage checks language against Languages
func ValidateLanguage(language string) error {
	for _, l := range Languages {
		if l == language {
			return nil
		}
	}
	return apperr.Newf(apperr.KindCollaborator, "recognition.Transcribe",
		"unsupported language option: %q (must be one of %s)", language, strings.Join(Languages, ", "))
}

// 感情・言語タグ (<|ja|>, <|NEUTRAL|> など)
var tagPattern = regexp.MustCompile(`<\|[^|>]*\|>`)

// CleanTranscript removes model tag tokens and surrounding whitespace
func CleanTranscript(text string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
}

// String describes the recognizer for logs
func (r *OpenAIRecognizer) String() string {
	return fmt.Sprintf("openai(%s)", r.model)
}
