package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzVoice/internal/config"
)

// RecordingMode defines how the hotkey triggers recording
type RecordingMode int

const (
	// PressToHold mode: record while key is held down
	PressToHold RecordingMode = iota
	// Toggle mode: first press starts, second press stops
	Toggle
)

// ParseMode converts the config value ("toggle" or "press-to-hold")
func ParseMode(s string) (RecordingMode, error) {
	switch s {
	case "toggle":
		return Toggle, nil
	case "press-to-hold":
		return PressToHold, nil
	default:
		return Toggle, fmt.Errorf("unknown recording mode: %s", s)
	}
}

func (m RecordingMode) String() string {
	if m == PressToHold {
		return "press-to-hold"
	}
	return "toggle"
}

// EventType represents the type of hotkey event
type EventType int

const (
	// Pressed indicates the hotkey was pressed
	Pressed EventType = iota
	// Released indicates the hotkey was released
	Released
)

// Event represents a hotkey event
type Event struct {
	Type EventType
}

// Config holds hotkey configuration
type Config struct {
	Spec Spec
	Mode RecordingMode
}

// DefaultConfig is Ctrl+Shift+Space in Toggle mode
func DefaultConfig() Config {
	return Config{
		Spec: Spec{Ctrl: true, Shift: true, Key: "Space"},
		Mode: Toggle,
	}
}

// Manager manages global hotkey registration and events. The event channel
// survives Reload and is closed by Close.
type Manager struct {
	hk        *hotkey.Hotkey
	config    Config
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// New creates a new hotkey manager with the default configuration
func New() *Manager {
	return &Manager{
		config:    DefaultConfig(),
		eventChan: make(chan Event, 10),
	}
}

// Register registers the hotkey with the system
func (m *Manager) Register(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}
	if m.eventChan == nil {
		m.eventChan = make(chan Event, 10)
	}

	return m.registerLocked(config)
}

func (m *Manager) registerLocked(config Config) error {
	key, mods, err := config.Spec.Resolve()
	if err != nil {
		return err
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %s: %w", config.Spec, err)
	}

	m.config = config
	m.hk = hk
	m.stopChan = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.listen(hk, config.Mode, m.stopChan)

	return nil
}

// Reload swaps the registered hotkey. When the new combination cannot be
// registered the previous one is restored.
func (m *Manager) Reload(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("hotkey is not running")
	}

	previous := m.config
	if err := m.stopLocked(); err != nil {
		return err
	}

	if err := m.registerLocked(config); err != nil {
		// 以前のホットキーに戻す
		if rollbackErr := m.registerLocked(previous); rollbackErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rollbackErr)
		}
		return err
	}
	return nil
}

// listen monitors hotkey events and sends them to the event channel
func (m *Manager) listen(hk *hotkey.Hotkey, mode RecordingMode, stop chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-hk.Keydown():
			if ev, ok := nextEvent(mode, true); ok {
				m.send(ev, stop)
			}
		case <-hk.Keyup():
			if ev, ok := nextEvent(mode, false); ok {
				m.send(ev, stop)
			}
		case <-stop:
			return
		}
	}
}

func (m *Manager) send(ev Event, stop chan struct{}) {
	select {
	case m.eventChan <- ev:
	case <-stop:
	}
}

// nextEvent maps a key transition to an event. Toggle mode only reports
// key presses; Dispatch decides between start and stop.
func nextEvent(mode RecordingMode, down bool) (Event, bool) {
	if down {
		return Event{Type: Pressed}, true
	}
	if mode == PressToHold {
		return Event{Type: Released}, true
	}
	return Event{}, false
}

// Events returns the event channel for receiving hotkey events
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

func (m *Manager) stopLocked() error {
	if !m.running {
		return nil
	}

	close(m.stopChan)
	m.wg.Wait()

	// 注意: エラーが発生しても running は必ず false にする
	m.running = false

	if m.hk != nil {
		hk := m.hk
		m.hk = nil
		if err := hk.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister hotkey: %w", err)
		}
	}
	return nil
}

// Close unregisters the hotkey and closes the event channel
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.stopLocked()

	if m.eventChan != nil {
		close(m.eventChan)
		m.eventChan = nil
	}

	return err
}

// IsRunning returns whether the hotkey is currently registered and running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetConfig returns the current hotkey configuration
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Recorder is what the hotkey drives
type Recorder interface {
	OnStart() error
	OnStop() error
	IsRecording() bool
}

// Dispatch turns events into recorder commands until events is closed.
// In Toggle mode a press stops an active recording and starts one otherwise.
func Dispatch(events <-chan Event, mode func() RecordingMode, r Recorder, onError func(error)) {
	for ev := range events {
		var err error
		switch ev.Type {
		case Pressed:
			if mode() == Toggle && r.IsRecording() {
				err = r.OnStop()
			} else if !r.IsRecording() {
				err = r.OnStart()
			}
		case Released:
			if mode() == PressToHold && r.IsRecording() {
				err = r.OnStop()
			}
		}
		if err != nil && onError != nil {
			onError(err)
		}
	}
}

// FromSettings builds a Config from the stored hotkey and recording mode
func FromSettings(hk config.HotkeyConfig, recordingMode string) (Config, error) {
	mode, err := ParseMode(recordingMode)
	if err != nil {
		return Config{}, err
	}

	spec := Spec{Ctrl: hk.Ctrl, Shift: hk.Shift, Alt: hk.Alt, Cmd: hk.Cmd, Key: hk.Key}
	if err := spec.Validate(); err != nil {
		return Config{}, err
	}

	return Config{Spec: spec, Mode: mode}, nil
}
