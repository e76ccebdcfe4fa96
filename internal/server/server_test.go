package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Port != 18765 {
		t.Errorf("Expected port 18765, got %d", config.Port)
	}
	if config.ReadTimeout != 10*time.Second {
		t.Errorf("Expected ReadTimeout 10s, got %v", config.ReadTimeout)
	}
	if config.WriteTimeout != 10*time.Second {
		t.Errorf("Expected WriteTimeout 10s, got %v", config.WriteTimeout)
	}
	if config.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected ShutdownTimeout 5s, got %v", config.ShutdownTimeout)
	}
}

func TestNew(t *testing.T) {
	config := DefaultConfig()
	server := New(config, nil)

	if server == nil {
		t.Fatal("Expected server to be created")
	}
	if server.port != config.Port {
		t.Errorf("Expected port %d, got %d", config.Port, server.port)
	}
	if server.running {
		t.Error("Expected server to not be running initially")
	}
	if server.GetMux() == nil {
		t.Error("Expected a mux")
	}
}

func TestStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Port = 0 // Use random port
	server := New(config, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if !server.IsRunning() {
		t.Error("Expected server to be running")
	}
	if server.Port() == 0 {
		t.Error("Expected non-zero port")
	}

	if err := server.Start(); err == nil {
		t.Error("Expected error when starting already running server")
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}
	if server.IsRunning() {
		t.Error("Expected server to be stopped")
	}

	// Stop again (no-op)
	if err := server.Stop(); err != nil {
		t.Errorf("Expected no error when stopping already stopped server: %v", err)
	}
}

func TestURL(t *testing.T) {
	config := DefaultConfig()
	config.Port = 12345
	server := New(config, nil)

	expectedURL := "http://127.0.0.1:12345"
	if server.URL() != expectedURL {
		t.Errorf("Expected URL %s, got %s", expectedURL, server.URL())
	}
}

func TestServesControlPage(t *testing.T) {
	config := DefaultConfig()
	config.Port = 0
	server := New(config, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	resp, err := http.Get(server.URL() + "/")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if !strings.Contains(string(body), "/api/status") {
		t.Error("Expected the control page")
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	handler := corsMiddleware(next)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://127.0.0.1:18765", true},
		{"http://localhost:3000", true},
		{"http://localhost", true},
		{"http://localhost.evil.com", false},
		{"http://127.0.0.1.evil.com", false},
		{"https://example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, got)
			}
			if w.Code != http.StatusOK {
				t.Errorf("Expected preflight 200, got %d", w.Code)
			}
			if w.Body.Len() != 0 {
				t.Error("Preflight should not reach the handler")
			}
		})
	}
}

func TestRegisterAPIHandler(t *testing.T) {
	config := DefaultConfig()
	config.Port = 0
	server := New(config, nil)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test ok"))
	})

	if err := server.RegisterAPIHandler("test/handler", handler); err == nil {
		t.Error("Expected error for a relative path")
	}
	if err := server.RegisterAPIHandler("/test/handler", handler); err != nil {
		t.Fatalf("Failed to register handler: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	resp, err := http.Get(server.URL() + "/test/handler")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "test ok" {
		t.Errorf("Expected response 'test ok', got '%s'", string(body))
	}
}

func TestMultipleStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Port = 0

	for i := 0; i < 3; i++ {
		server := New(config, nil)

		if err := server.Start(); err != nil {
			t.Fatalf("Iteration %d: Failed to start server: %v", i, err)
		}
		if err := server.Stop(); err != nil {
			t.Fatalf("Iteration %d: Failed to stop server: %v", i, err)
		}
	}
}
