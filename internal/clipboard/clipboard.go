// Package clipboard copies assistant replies to the system clipboard and
// optionally pastes them into the active application.
package clipboard

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
)

// Manager manages clipboard operations with safe restoration
type Manager struct {
	restoreTimeout time.Duration

	readAll  func() (string, error)
	writeAll func(string) error
	keyTap   func(key string, modifier string) error
	sleep    func(time.Duration)
}

// Config holds clipboard manager configuration
type Config struct {
	RestoreTimeout time.Duration // Wait before restoring the clipboard after a paste (default: 500ms)
}

// DefaultConfig returns the default clipboard configuration
func DefaultConfig() Config {
	return Config{
		RestoreTimeout: 500 * time.Millisecond,
	}
}

// NewManager creates a new clipboard manager
func NewManager(config Config) *Manager {
	return &Manager{
		restoreTimeout: config.RestoreTimeout,
		readAll:        robotgo.ReadAll,
		writeAll:       robotgo.WriteAll,
		keyTap: func(key, modifier string) error {
			return robotgo.KeyTap(key, modifier)
		},
		sleep: time.Sleep,
	}
}

// Copy puts text on the clipboard
func (m *Manager) Copy(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to copy")
	}
	if err := m.writeAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}

// Read returns the current clipboard content
func (m *Manager) Read() (string, error) {
	content, err := m.readAll()
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return content, nil
}

// SafePaste pastes text into the active application and restores the
// previous clipboard content unless it was changed in the meantime
func (m *Manager) SafePaste(text string) error {
	saved, err := m.Read()
	if err != nil {
		return err
	}

	if err := m.Copy(text); err != nil {
		return err
	}

	m.sleep(10 * time.Millisecond)

	if err := m.keyTap("v", PasteModifier(runtime.GOOS)); err != nil {
		return fmt.Errorf("failed to send paste shortcut: %w", err)
	}

	m.sleep(m.restoreTimeout)

	current, err := m.readAll()
	if err != nil || current != text {
		// ユーザーがクリップボードを変更した場合は復元しない
		return nil
	}
	if err := m.writeAll(saved); err != nil {
		return fmt.Errorf("failed to restore clipboard: %w", err)
	}
	return nil
}

// PasteModifier returns the paste shortcut modifier for goos
func PasteModifier(goos string) string {
	if goos == "darwin" {
		return "cmd"
	}
	return "ctrl"
}
