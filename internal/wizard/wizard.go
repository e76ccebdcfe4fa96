// Package wizard tracks first-run setup: whether the control page should be
// opened at startup and which settings still need attention.
package wizard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yok-tottii/EzVoice/internal/config"
)

const setupFlagName = ".setup_completed"

// SetupWizard manages the initial application setup flow
type SetupWizard struct {
	configDir     string
	configPath    string
	setupFlagFile string
	mu            sync.RWMutex
}

// NewSetupWizard creates a wizard for the config file at configPath.
// The setup flag lives next to it.
func NewSetupWizard(configPath string) (*SetupWizard, error) {
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	configDir := filepath.Dir(configPath)

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return &SetupWizard{
		configDir:     configDir,
		configPath:    configPath,
		setupFlagFile: filepath.Join(configDir, setupFlagName),
	}, nil
}

// IsFirstRun reports whether no config file has been written yet
func (w *SetupWizard) IsFirstRun() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, err := os.Stat(w.configPath)
	return os.IsNotExist(err)
}

// IsSetupCompleted checks if the setup has been marked completed
func (w *SetupWizard) IsSetupCompleted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, err := os.Stat(w.setupFlagFile)
	return err == nil
}

// MarkSetupCompleted writes the setup flag
func (w *SetupWizard) MarkSetupCompleted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Create(w.setupFlagFile)
	if err != nil {
		return fmt.Errorf("failed to create setup flag file: %w", err)
	}
	return file.Close()
}

// ShouldShowWizard is true on the first run and until setup is completed
func (w *SetupWizard) ShouldShowWizard() bool {
	return w.IsFirstRun() || !w.IsSetupCompleted()
}

// SetupProgress lists which parts of the setup are usable
type SetupProgress struct {
	DeviceAvailable  bool `json:"device_available"`
	HotkeyConfigured bool `json:"hotkey_configured"`
	LLMConfigured    bool `json:"llm_configured"`
	SpeechConfigured bool `json:"speech_configured"`
}

// Complete reports whether every step is done
func (p SetupProgress) Complete() bool {
	return p.DeviceAvailable && p.HotkeyConfigured && p.LLMConfigured && p.SpeechConfigured
}

// Missing names the steps that still need attention
func (p SetupProgress) Missing() []string {
	var missing []string
	if !p.DeviceAvailable {
		missing = append(missing, "device")
	}
	if !p.HotkeyConfigured {
		missing = append(missing, "hotkey")
	}
	if !p.LLMConfigured {
		missing = append(missing, "llm")
	}
	if !p.SpeechConfigured {
		missing = append(missing, "speech")
	}
	return missing
}

// GetProgress inspects cfg. canRecord is whether an input device was found.
func (w *SetupWizard) GetProgress(cfg *config.Config, canRecord bool) SetupProgress {
	progress := SetupProgress{DeviceAvailable: canRecord}
	if cfg == nil {
		return progress
	}

	snapshot := cfg.Clone()
	progress.HotkeyConfigured = snapshot.Hotkey.Key != "" &&
		(snapshot.Hotkey.Ctrl || snapshot.Hotkey.Shift || snapshot.Hotkey.Alt || snapshot.Hotkey.Cmd)
	progress.LLMConfigured = cfg.HasLLMCredentials()

	// Edge voices need no key
	switch snapshot.TTS.Provider {
	case "", "edge":
		progress.SpeechConfigured = true
	default:
		progress.SpeechConfigured = snapshot.TTS.APIKey != ""
	}

	return progress
}

// ResetSetup removes the setup flag
func (w *SetupWizard) ResetSetup() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Remove(w.setupFlagFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove setup flag file: %w", err)
	}
	return nil
}

// GetConfigDir returns the configuration directory
func (w *SetupWizard) GetConfigDir() string {
	return w.configDir
}

// GetConfigPath returns the configuration file path
func (w *SetupWizard) GetConfigPath() string {
	return w.configPath
}
