// Package api serves the localhost control API used by the control page
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio"
	"github.com/yok-tottii/EzVoice/internal/config"
	"github.com/yok-tottii/EzVoice/internal/hotkey"
	"github.com/yok-tottii/EzVoice/internal/logger"
	"github.com/yok-tottii/EzVoice/internal/pipeline"
)

// Controller is the recording side the API drives
type Controller interface {
	OnStart() error
	OnStop() error
	IsRecording() bool
	CanRecord() bool
	RefreshDevices() []audio.Device
	Devices() []audio.Device
	SelectedDevice() int
}

// StatusSource reports the pipeline state
type StatusSource interface {
	Current() pipeline.Status
	Snapshot() (pipeline.State, *pipeline.RunResult)
}

// Handler manages API endpoints
type Handler struct {
	config     *config.Config
	configPath string
	controller Controller
	status     StatusSource
	logger     *logger.Logger

	// onSettingsChanged applies saved settings to the running application
	onSettingsChanged func(*config.Config) error
}

// New creates a new API handler. configPath is where PUT /api/settings saves.
func New(cfg *config.Config, configPath string, controller Controller, status StatusSource, log *logger.Logger, onSettingsChanged func(*config.Config) error) *Handler {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Handler{
		config:            cfg,
		configPath:        configPath,
		controller:        controller,
		status:            status,
		logger:            log,
		onSettingsChanged: onSettingsChanged,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/recording/start", h.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", h.handleRecordingStop)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/hotkey/validate", h.handleHotkeyValidate)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

// statusCode maps an error kind to an HTTP status
func statusCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindInvalidDevice, apperr.KindConfig:
		return http.StatusBadRequest
	case apperr.KindDeviceQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSettings(w, r)
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getSettings returns the current configuration. Credentials are never
// serialized.
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Clone())
}

// putSettings updates, saves and applies the configuration
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if containsCredential(updates) {
		writeError(w, http.StatusBadRequest, "API keys cannot be set through the API; use the config file or environment")
		return
	}

	if err := h.config.Update(updates); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to update config: %v", err))
		return
	}

	if err := h.config.Save(h.configPath); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save config: %v", err))
		return
	}

	if h.onSettingsChanged != nil {
		if err := h.onSettingsChanged(h.config.Clone()); err != nil {
			// 設定は保存済みなので部分的成功として返す
			h.logger.Warn("設定の適用に失敗: %v", err)
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "partial",
				"message": fmt.Sprintf("Settings saved but could not be applied: %v", err),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}

// containsCredential reports whether an update touches an api_key at any level
func containsCredential(updates map[string]interface{}) bool {
	for key, value := range updates {
		if strings.EqualFold(key, "api_key") {
			return true
		}
		if nested, ok := value.(map[string]interface{}); ok && containsCredential(nested) {
			return true
		}
	}
	return false
}

// handleDevices handles GET /api/devices. ?refresh=1 lists the devices again.
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var devices []audio.Device
	if r.URL.Query().Get("refresh") != "" {
		devices = h.controller.RefreshDevices()
	} else {
		devices = h.controller.Devices()
	}
	if devices == nil {
		devices = []audio.Device{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices":    devices,
		"selected":   h.controller.SelectedDevice(),
		"can_record": h.controller.CanRecord(),
	})
}

// handleRecordingStart handles POST /api/recording/start
func (h *Handler) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.OnStart(); err != nil {
		writeError(w, statusCode(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "recording",
	})
}

// handleRecordingStop handles POST /api/recording/stop
func (h *Handler) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.OnStop(); err != nil {
		writeError(w, statusCode(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "submitted",
	})
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	State         pipeline.State      `json:"state"`
	Label         string              `json:"label"`
	RunID         string              `json:"run_id,omitempty"`
	Error         string              `json:"error,omitempty"`
	Recording     bool                `json:"recording"`
	CanRecord     bool                `json:"can_record"`
	LLMConfigured bool                `json:"llm_configured"`
	Last          *pipeline.RunResult `json:"last,omitempty"`
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	current := h.status.Current()
	_, last := h.status.Snapshot()

	response := StatusResponse{
		State:         current.State,
		Label:         current.Label,
		RunID:         current.RunID,
		Recording:     h.controller.IsRecording(),
		CanRecord:     h.controller.CanRecord(),
		LLMConfigured: h.config.HasLLMCredentials(),
		Last:          last,
	}
	if current.Err != nil {
		response.Error = current.Err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleHotkeyValidate handles POST /api/hotkey/validate
func (h *Handler) handleHotkeyValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// macOS の IME ではスペースが NBSP (U+00A0) として送られることがある
	if request.Key == "\u00a0" || request.Key == " " {
		request.Key = "Space"
	}

	spec := hotkey.Spec{
		Ctrl:  request.Ctrl,
		Shift: request.Shift,
		Alt:   request.Alt,
		Cmd:   request.Cmd,
		Key:   request.Key,
	}

	if err := spec.Validate(); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":     false,
			"message":   err.Error(),
			"conflicts": []string{},
		})
		return
	}

	conflictNames := []string{}
	for _, c := range hotkey.CheckConflicts(spec) {
		conflictNames = append(conflictNames, c.Name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"display":   hotkey.FormatHotkey(spec),
		"conflicts": conflictNames,
	})
}
