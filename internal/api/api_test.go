package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio"
	"github.com/yok-tottii/EzVoice/internal/config"
	"github.com/yok-tottii/EzVoice/internal/pipeline"
)

type fakeController struct {
	recording  bool
	startErr   error
	stopErr    error
	devices    []audio.Device
	refreshed  int
	selectedID int
}

func (c *fakeController) OnStart() error {
	if c.startErr != nil {
		return c.startErr
	}
	c.recording = true
	return nil
}

func (c *fakeController) OnStop() error {
	if c.stopErr != nil {
		return c.stopErr
	}
	c.recording = false
	return nil
}

func (c *fakeController) IsRecording() bool { return c.recording }
func (c *fakeController) CanRecord() bool   { return len(c.devices) > 0 }
func (c *fakeController) Devices() []audio.Device {
	return c.devices
}
func (c *fakeController) RefreshDevices() []audio.Device {
	c.refreshed++
	return c.devices
}
func (c *fakeController) SelectedDevice() int { return c.selectedID }

type fakeStatus struct {
	current pipeline.Status
	last    *pipeline.RunResult
}

func (s *fakeStatus) Current() pipeline.Status { return s.current }
func (s *fakeStatus) Snapshot() (pipeline.State, *pipeline.RunResult) {
	return s.current.State, s.last
}

type fixture struct {
	cfg        *config.Config
	path       string
	controller *fakeController
	status     *fakeStatus
	handler    *Handler
	applied    []*config.Config
	applyErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cfg:  config.DefaultConfig(),
		path: filepath.Join(t.TempDir(), "config.yaml"),
		controller: &fakeController{
			devices: []audio.Device{{ID: 0, Name: "Built-in Microphone", InputChannels: 1, IsDefault: true}},
		},
		status: &fakeStatus{current: pipeline.Status{State: pipeline.Idle, Label: "Ready"}},
	}
	f.handler = New(f.cfg, f.path, f.controller, f.status, nil, func(c *config.Config) error {
		f.applied = append(f.applied, c)
		return f.applyErr
	})
	return f
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	f.handler.RegisterRoutes(mux)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestGetSettings(t *testing.T) {
	f := newFixture(t)
	f.cfg.LLM.APIKey = "sk-secret"

	w := f.do(http.MethodGet, "/api/settings", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-secret") || strings.Contains(w.Body.String(), "api_key") {
		t.Errorf("Credentials must not be returned: %s", w.Body.String())
	}

	var response config.Config
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Language != f.cfg.Language {
		t.Errorf("Expected Language '%s', got '%s'", f.cfg.Language, response.Language)
	}
	if response.LLM.Model != f.cfg.LLM.Model {
		t.Errorf("Expected model '%s', got '%s'", f.cfg.LLM.Model, response.LLM.Model)
	}
}

func TestPutSettings(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]interface{}{
		"recording_mode": "press-to-hold",
		"language":       "zh",
		"tts":            map[string]interface{}{"voice": "zh-CN-YunxiNeural"},
	})
	w := f.do(http.MethodPut, "/api/settings", body)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.cfg.RecordingMode != "press-to-hold" || f.cfg.Language != "zh" {
		t.Errorf("Config not updated: %s %s", f.cfg.RecordingMode, f.cfg.Language)
	}
	if f.cfg.TTS.Voice != "zh-CN-YunxiNeural" {
		t.Errorf("Expected voice to be updated, got %s", f.cfg.TTS.Voice)
	}

	if _, err := os.Stat(f.path); err != nil {
		t.Errorf("Expected config file to be saved: %v", err)
	}
	if len(f.applied) != 1 || f.applied[0].Language != "zh" {
		t.Errorf("Expected settings to be applied once, got %d", len(f.applied))
	}
}

func TestPutSettings_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "invalid"},
		{"invalid value", `{"language": "fr"}`},
		{"unknown key", `{"whisper_model": "large"}`},
		{"top level key", `{"api_key": "sk-x"}`},
		{"nested key", `{"llm": {"api_key": "sk-x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.cfg.Clone()

			w := f.do(http.MethodPut, "/api/settings", []byte(tt.body))

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			if f.cfg.Language != before.Language || f.cfg.LLM.APIKey != before.LLM.APIKey {
				t.Error("Config should be unchanged")
			}
			if len(f.applied) != 0 {
				t.Error("Nothing should be applied")
			}
		})
	}
}

func TestPutSettings_ApplyFailure(t *testing.T) {
	f := newFixture(t)
	f.applyErr = errors.New("hotkey in use")

	w := f.do(http.MethodPut, "/api/settings", []byte(`{"notifications": false}`))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if response := decode(t, w); response["status"] != "partial" {
		t.Errorf("Expected partial status, got %v", response["status"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/settings"},
		{http.MethodPost, "/api/devices"},
		{http.MethodGet, "/api/recording/start"},
		{http.MethodGet, "/api/recording/stop"},
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/hotkey/validate"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			f := newFixture(t)
			if w := f.do(tt.method, tt.path, nil); w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status 405, got %d", w.Code)
			}
		})
	}
}

func TestDevices(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/devices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	devices, ok := response["devices"].([]interface{})
	if !ok || len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %v", response["devices"])
	}
	if response["can_record"] != true {
		t.Error("Expected can_record to be true")
	}
	if f.controller.refreshed != 0 {
		t.Error("Devices should not be listed again without refresh")
	}

	f.do(http.MethodGet, "/api/devices?refresh=1", nil)
	if f.controller.refreshed != 1 {
		t.Errorf("Expected 1 refresh, got %d", f.controller.refreshed)
	}
}

func TestDevices_Empty(t *testing.T) {
	f := newFixture(t)
	f.controller.devices = nil

	response := decode(t, f.do(http.MethodGet, "/api/devices", nil))

	if devices, ok := response["devices"].([]interface{}); !ok || len(devices) != 0 {
		t.Errorf("Expected an empty list, got %v", response["devices"])
	}
	if response["can_record"] != false {
		t.Error("Expected can_record to be false")
	}
}

func TestRecordingStartStop(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodPost, "/api/recording/start", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !f.controller.recording {
		t.Error("Expected recording to start")
	}

	if w := f.do(http.MethodPost, "/api/recording/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if f.controller.recording {
		t.Error("Expected recording to stop")
	}
}

func TestRecording_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"busy", apperr.New(apperr.KindInvalidState, "test", "a run is in progress"), http.StatusConflict},
		{"no device", apperr.New(apperr.KindDeviceQuery, "test", "no input device available"), http.StatusServiceUnavailable},
		{"bad device", apperr.New(apperr.KindInvalidDevice, "test", "device 9"), http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.controller.startErr = tt.err
			f.controller.stopErr = tt.err

			if w := f.do(http.MethodPost, "/api/recording/start", nil); w.Code != tt.expected {
				t.Errorf("start: expected status %d, got %d", tt.expected, w.Code)
			}
			if w := f.do(http.MethodPost, "/api/recording/stop", nil); w.Code != tt.expected {
				t.Errorf("stop: expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.status.current = pipeline.Status{
		RunID: "run-1",
		State: pipeline.Failed,
		Label: "Failed",
		Err:   errors.New("asr down"),
	}
	f.status.last = &pipeline.RunResult{
		RunID:      "run-1",
		Transcript: "你好",
		State:      pipeline.Failed,
		FinishedAt: time.Now(),
	}

	w := f.do(http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["state"] != "Failed" {
		t.Errorf("Expected state 'Failed', got %v", response["state"])
	}
	if response["error"] != "asr down" {
		t.Errorf("Expected error 'asr down', got %v", response["error"])
	}
	if response["llm_configured"] != false {
		t.Error("Expected llm_configured to be false")
	}
	last, ok := response["last"].(map[string]interface{})
	if !ok || last["transcript"] != "你好" {
		t.Errorf("Expected last run, got %v", response["last"])
	}
}

func TestHotkeyValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		valid     bool
		conflicts int
	}{
		{"default", `{"ctrl": true, "shift": true, "key": "Space"}`, true, 0},
		{"spotlight", `{"cmd": true, "key": "Space"}`, true, 1},
		{"nbsp space", `{"cmd": true, "key": "\u00a0"}`, true, 1},
		{"no modifier", `{"key": "Space"}`, false, 0},
		{"unknown key", `{"ctrl": true, "key": "Hyper"}`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(http.MethodPost, "/api/hotkey/validate", []byte(tt.body))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			response := decode(t, w)
			if response["valid"] != tt.valid {
				t.Errorf("Expected valid=%v, got %v", tt.valid, response["valid"])
			}
			conflicts, _ := response["conflicts"].([]interface{})
			if len(conflicts) != tt.conflicts {
				t.Errorf("Expected %d conflicts, got %v", tt.conflicts, conflicts)
			}
		})
	}
}

func TestHotkeyValidate_InvalidBody(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodPost, "/api/hotkey/validate", []byte("{")); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
