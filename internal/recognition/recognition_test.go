package recognition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio"
)

type fakeTranscriber struct {
	text     string
	err      error
	requests []openai.AudioRequest
}

func (f *fakeTranscriber) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	return openai.AudioResponse{Text: f.text}, nil
}

func writeRecording(t *testing.T, frames int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "record.wav")
	chunks := [][]byte{make([]byte, frames*audio.SampleWidth)}
	if err := audio.WriteWAVFile(path, audio.RecordingFormat(16000), chunks); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Model != "whisper-1" {
		t.Errorf("Expected default model 'whisper-1', got '%s'", config.Model)
	}
}

func TestNewOpenAIRecognizer_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIRecognizer(DefaultConfig()); !apperr.IsKind(err, apperr.KindConfig) {
		t.Errorf("Expected config error without API key, got %v", err)
	}

	r, err := NewOpenAIRecognizer(Config{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.model != "whisper-1" {
		t.Errorf("Expected model fallback 'whisper-1', got '%s'", r.model)
	}
}

func TestTranscribe(t *testing.T) {
	fake := &fakeTranscriber{text: "  <|ja|><|NEUTRAL|>こんにちは  "}
	r := &OpenAIRecognizer{client: fake, model: "whisper-1"}
	path := writeRecording(t, 1024)

	text, err := r.Transcribe(context.Background(), path, "ja")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "こんにちは" {
		t.Errorf("Expected 'こんにちは', got %q", text)
	}

	if len(fake.requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(fake.requests))
	}
	req := fake.requests[0]
	if req.FilePath != path || req.Language != "ja" || req.Model != "whisper-1" {
		t.Errorf("Unexpected request: %+v", req)
	}
}

func TestTranscribe_AutoSendsNoLanguage(t *testing.T) {
	fake := &fakeTranscriber{text: "hello"}
	r := &OpenAIRecognizer{client: fake, model: "whisper-1"}

	if _, err := r.Transcribe(context.Background(), writeRecording(t, 16), "auto"); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if fake.requests[0].Language != "" {
		t.Errorf("Expected empty language for auto, got %q", fake.requests[0].Language)
	}
}

func TestTranscribe_UnsupportedLanguage(t *testing.T) {
	fake := &fakeTranscriber{text: "hello"}
	r := &OpenAIRecognizer{client: fake, model: "whisper-1"}

	_, err := r.Transcribe(context.Background(), writeRecording(t, 16), "nospeech")
	if !apperr.IsKind(err, apperr.KindCollaborator) {
		t.Errorf("Expected collaborator error, got %v", err)
	}
	if len(fake.requests) != 0 {
		t.Error("No request should be sent for an unsupported language")
	}
}

func TestTranscribe_InvalidFile(t *testing.T) {
	fake := &fakeTranscriber{text: "hello"}
	r := &OpenAIRecognizer{client: fake, model: "whisper-1"}

	notWAV := filepath.Join(t.TempDir(), "record.wav")
	if err := os.WriteFile(notWAV, []byte("not a wav file"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(t.TempDir(), "missing.wav")},
		{"not wav", notWAV},
		{"empty recording", writeRecording(t, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Transcribe(context.Background(), tt.path, "auto")
			if !apperr.IsKind(err, apperr.KindCollaborator) {
				t.Errorf("Expected collaborator error, got %v", err)
			}
		})
	}

	if len(fake.requests) != 0 {
		t.Errorf("Expected no requests, got %d", len(fake.requests))
	}
}

func TestTranscribe_RequestError(t *testing.T) {
	cause := errors.New("502 bad gateway")
	r := &OpenAIRecognizer{client: &fakeTranscriber{err: cause}, model: "whisper-1"}

	_, err := r.Transcribe(context.Background(), writeRecording(t, 16), "en")
	if !apperr.IsKind(err, apperr.KindCollaborator) {
		t.Fatalf("Expected collaborator error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the request error to be wrapped")
	}
}

func TestCleanTranscript(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"  hello world \n", "hello world"},
		{"<|en|><|HAPPY|><|Speech|>hello", "hello"},
		{"<|zh|>你好<|woitn|>", "你好"},
		{"a < b | c > d", "a < b | c > d"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := CleanTranscript(tt.input); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}
