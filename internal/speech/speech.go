package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"github.com/yok-tottii/EzVoice/internal/apperr"
)

// Synthesizer converts text to a compressed audio file
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, outPath string) (string, error)
}

// Providers
const (
	ProviderEdge   = "edge"
	ProviderOpenAI = "openai"
)

// Config holds speech synthesis configuration
type Config struct {
	Provider string
	Voice    string
	Model    string // openai only
	BaseURL  string
	APIKey   string
}

// DefaultVoice is used when neither the call nor the config names one
const DefaultVoice = "zh-CN-XiaoyiNeural"

// New creates the synthesizer selected by config.Provider
func New(config Config) (Synthesizer, error) {
	switch config.Provider {
	case "", ProviderEdge:
		return NewEdgeSynthesizer(config.Voice), nil
	case ProviderOpenAI:
		return NewOpenAISynthesizer(config)
	default:
		return nil, apperr.Newf(apperr.KindConfig, "speech.New", "unknown TTS provider: %s", config.Provider)
	}
}

// EdgeSynthesizer uses the Microsoft Edge read-aloud voices
type EdgeSynthesizer struct {
	voice  string
	stream func(text, voice string, timeout time.Duration) ([]byte, error)
}

// NewEdgeSynthesizer creates an Edge synthesizer with a default voice
func NewEdgeSynthesizer(voice string) *EdgeSynthesizer {
	if voice == "" {
		voice = DefaultVoice
	}
	return &EdgeSynthesizer{voice: voice, stream: edgeStream}
}

// edgeStream returns the mp3 audio for text. A positive timeout bounds each
// websocket receive.
func edgeStream(text, voice string, timeout time.Duration) ([]byte, error) {
	options := []edge_tts.CommunicateOption{edge_tts.SetVoice(voice)}
	if seconds := int(timeout / time.Second); seconds > 0 {
		options = append(options, edge_tts.SetReceiveTimeout(seconds))
	}

	communicate, err := edge_tts.NewCommunicate(text, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create edge tts session: %w", err)
	}
	return communicate.Stream()
}

// streamContext runs stream on its own goroutine so ctx can interrupt it.
// The abandoned call finishes in the background and its result is dropped.
func streamContext(ctx context.Context, stream func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := stream()
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Synthesize writes mp3 audio for text to outPath
func (s *EdgeSynthesizer) Synthesize(ctx context.Context, text, voiceID, outPath string) (string, error) {
	const op = "speech.Synthesize"

	if err := checkInput(text, outPath); err != nil {
		return "", err
	}

	voice := voiceID
	if voice == "" {
		voice = s.voice
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	data, err := streamContext(ctx, func() ([]byte, error) {
		return s.stream(text, voice, timeout)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "edge tts synthesis failed", err)
	}
	if len(data) == 0 {
		return "", apperr.New(apperr.KindCollaborator, op, "edge tts returned no audio")
	}

	if err := writeFile(outPath, bytes.NewReader(data)); err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "failed to write speech file", err)
	}
	return outPath, nil
}

// speechClient is the part of the OpenAI client used here
type speechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// OpenAISynthesizer uses an OpenAI-compatible speech endpoint
type OpenAISynthesizer struct {
	client speechClient
	model  string
	voice  string
}

// NewOpenAISynthesizer creates an OpenAI synthesizer from config
func NewOpenAISynthesizer(config Config) (*OpenAISynthesizer, error) {
	if config.APIKey == "" {
		return nil, apperr.New(apperr.KindConfig, "speech.New", "TTS API key is not configured")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}
	voice := config.Voice
	// Edge voice names are not valid here
	if voice == "" || strings.Contains(voice, "Neural") {
		voice = string(openai.VoiceAlloy)
	}

	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		voice:  voice,
	}, nil
}

// Synthesize writes mp3 audio for text to outPath
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voiceID, outPath string) (string, error) {
	const op = "speech.Synthesize"

	if err := checkInput(text, outPath); err != nil {
		return "", err
	}

	voice := voiceID
	if voice == "" || strings.Contains(voice, "Neural") {
		voice = s.voice
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "speech request failed", err)
	}
	defer resp.Close()

	if err := writeFile(outPath, resp); err != nil {
		return "", apperr.Wrap(apperr.KindCollaborator, op, "failed to write speech file", err)
	}
	return outPath, nil
}

func checkInput(text, outPath string) error {
	const op = "speech.Synthesize"

	if strings.TrimSpace(text) == "" {
		return apperr.New(apperr.KindCollaborator, op, "text is empty")
	}
	if outPath == "" {
		return apperr.New(apperr.KindCollaborator, op, "output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return apperr.Wrap(apperr.KindCollaborator, op, "failed to create output directory", err)
	}
	return nil
}

// writeFile copies r to a temporary file next to path and renames it, so a
// failed write leaves no partial audio behind.
func writeFile(path string, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
