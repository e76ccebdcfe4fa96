package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/yok-tottii/EzVoice/internal/api"
	"github.com/yok-tottii/EzVoice/internal/assistant"
	"github.com/yok-tottii/EzVoice/internal/audio/audiotest"
	"github.com/yok-tottii/EzVoice/internal/config"
	"github.com/yok-tottii/EzVoice/internal/pipeline"
	"github.com/yok-tottii/EzVoice/internal/recording"
)

// TestServerAPIIntegration drives a recording through the HTTP API with a
// fake audio driver and no collaborators configured: the run fails at
// Transcribing after the WAV is saved.
func TestServerAPIIntegration(t *testing.T) {
	workDir := t.TempDir()

	driver := audiotest.NewDriver()
	driver.Interval = time.Millisecond
	recorder := recording.New(driver, nil)

	orchestrator := pipeline.New(recorder, pipeline.Collaborators{}, pipeline.Config{WorkDir: workDir, Language: "auto"})
	if err := orchestrator.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer orchestrator.Close()

	controller := assistant.New(driver, recorder, orchestrator, nil, assistant.Options{DeviceID: -1, SampleRate: 16000})
	controller.RefreshDevices()

	appConfig := config.DefaultConfig()
	handler := api.New(appConfig, filepath.Join(t.TempDir(), "config.yaml"), controller, orchestrator, nil, nil)

	serverConfig := DefaultConfig()
	serverConfig.Port = 0
	server := New(serverConfig, nil)
	handler.RegisterRoutes(server.GetMux())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	post := func(path string) int {
		resp, err := http.Post(server.URL()+path, "application/json", bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/api/recording/start"); code != http.StatusOK {
		t.Fatalf("Expected status 200 from start, got %d", code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for driver.LastStream().Reads() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Capture loop did not read")
		}
		time.Sleep(time.Millisecond)
	}

	if code := post("/api/recording/stop"); code != http.StatusOK {
		t.Fatalf("Expected status 200 from stop, got %d", code)
	}

	var failure string
	for {
		resp, err := http.Get(server.URL() + "/api/status")
		if err != nil {
			t.Fatalf("GET /api/status failed: %v", err)
		}
		var raw map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&raw)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("Failed to decode status: %v", err)
		}

		if raw["state"] == "Failed" {
			failure, _ = raw["error"].(string)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Run did not finish, state %v", raw["state"])
		}
		time.Sleep(5 * time.Millisecond)
	}

	if failure == "" {
		t.Error("Expected the failure reason in the status")
	}

	state, last := orchestrator.Snapshot()
	if state != pipeline.Failed || last == nil {
		t.Fatalf("Expected a failed run, got %v", state)
	}
	if last.AudioPath != filepath.Join(workDir, pipeline.RecordingFile) {
		t.Errorf("Expected the recording in the work dir, got %s", last.AudioPath)
	}
}
