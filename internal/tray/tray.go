// Package tray shows the assistant in the system tray. The manager is a
// pipeline.Observer: statuses are queued and applied by the tray's own
// goroutine.
package tray

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/EzVoice/internal/audio"
	"github.com/yok-tottii/EzVoice/internal/i18n"
	"github.com/yok-tottii/EzVoice/internal/logger"
	"github.com/yok-tottii/EzVoice/internal/pipeline"
)

const appName = "EzVoice"

// Actions are called from the tray goroutine when a menu item is clicked
type Actions struct {
	OnReady        func() // Called when systray is ready for initialization
	OnStart        func()
	OnStop         func()
	OnDeviceChange func(deviceID int)
	OnRefresh      func()
	OnCopyReply    func()
	OnControlPage  func()
	OnQuit         func()
}

// Manager manages the system tray icon and menu
type Manager struct {
	actions    Actions
	translator *i18n.Translator
	logger     *logger.Logger
	statuses   *pipeline.ChannelObserver

	mu        sync.Mutex
	ready     bool
	state     pipeline.State
	label     string
	canRecord bool

	menuStart    *systray.MenuItem
	menuStop     *systray.MenuItem
	menuDevices  *systray.MenuItem
	menuRefresh  *systray.MenuItem
	menuCopy     *systray.MenuItem
	menuControl  *systray.MenuItem
	menuQuit     *systray.MenuItem
	deviceItems  []*systray.MenuItem
	deviceCancel []context.CancelFunc

	icons map[iconKind][]byte
}

// NewManager creates a tray manager. Statuses delivered before Run are kept
// until the tray is ready.
func NewManager(actions Actions, translator *i18n.Translator, log *logger.Logger) *Manager {
	if translator == nil {
		translator = i18n.NewDefaultTranslator(i18n.LanguageEnglish)
	}
	if log == nil {
		log = logger.NewDiscard()
	}

	m := &Manager{
		actions:    actions,
		translator: translator,
		logger:     log,
		statuses:   pipeline.NewChannelObserver(32),
		state:      pipeline.Idle,
		icons:      make(map[iconKind][]byte),
	}
	m.label = translator.StatusLabel(m.state.String())

	for kind, name := range iconFiles {
		m.icons[kind] = loadIconData(name, fallbackIcon(kind), log)
	}

	return m
}

// Deliver queues a pipeline status for the tray goroutine
func (m *Manager) Deliver(status pipeline.Status) {
	m.statuses.Deliver(status)
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}

func (m *Manager) onReady() {
	systray.SetTitle("")
	systray.SetTooltip(appName)

	t := m.translator
	m.menuStart = systray.AddMenuItem(t.Translate("menu.start"), "Start recording")
	m.menuStop = systray.AddMenuItem(t.Translate("menu.stop"), "Stop recording and send")
	m.menuStop.Disable()

	systray.AddSeparator()

	m.menuDevices = systray.AddMenuItem(t.Translate("menu.device"), "Select input device")
	m.menuRefresh = systray.AddMenuItem(t.Translate("menu.refresh"), "List input devices again")
	m.menuCopy = systray.AddMenuItem(t.Translate("menu.copy_reply"), "Copy the last reply")
	m.menuControl = systray.AddMenuItem(t.Translate("menu.control_page"), "Open the control page")

	systray.AddSeparator()

	m.menuQuit = systray.AddMenuItem(t.Translate("menu.quit"), "Quit the application")

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
	m.apply(pipeline.Status{State: m.currentState(), Label: m.currentLabel()})

	go m.loop()

	if m.actions.OnReady != nil {
		m.actions.OnReady()
	}
}

func (m *Manager) onExit() {
	m.cancelDeviceItems()
}

// loop is the tray goroutine: menu clicks and statuses are handled here
func (m *Manager) loop() {
	for {
		select {
		case status := <-m.statuses.C():
			m.apply(status)
		case <-m.menuStart.ClickedCh:
			call(m.actions.OnStart)
		case <-m.menuStop.ClickedCh:
			call(m.actions.OnStop)
		case <-m.menuRefresh.ClickedCh:
			call(m.actions.OnRefresh)
		case <-m.menuCopy.ClickedCh:
			call(m.actions.OnCopyReply)
		case <-m.menuControl.ClickedCh:
			call(m.actions.OnControlPage)
		case <-m.menuQuit.ClickedCh:
			call(m.actions.OnQuit)
			systray.Quit()
			return
		}
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// apply updates the icon, tooltip and menu for status
func (m *Manager) apply(status pipeline.Status) {
	label := status.Label
	if label == "" {
		label = m.translator.StatusLabel(status.State.String())
	}

	m.mu.Lock()
	m.state = status.State
	m.label = label
	ready := m.ready
	canRecord := m.canRecord
	m.mu.Unlock()

	if !ready {
		return
	}

	systray.SetIcon(m.icons[iconFor(status.State)])
	systray.SetTooltip(tooltip(label, status.Err))

	start, stop := menuState(status.State, canRecord)
	setEnabled(m.menuStart, start)
	setEnabled(m.menuStop, stop)
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

func (m *Manager) currentState() pipeline.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) currentLabel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.label
}

// Label returns the status label last applied
func (m *Manager) Label() string {
	return m.currentLabel()
}

// UpdateDeviceMenu replaces the device submenu. An empty list disables
// recording.
func (m *Manager) UpdateDeviceMenu(devices []audio.Device, selected int) {
	m.mu.Lock()
	m.canRecord = len(devices) > 0
	ready := m.ready
	m.mu.Unlock()

	if !ready {
		return
	}

	m.cancelDeviceItems()

	for _, item := range m.deviceItems {
		item.Hide()
	}
	m.deviceItems = nil

	if len(devices) == 0 {
		item := m.menuDevices.AddSubMenuItem(m.translator.Translate("menu.no_device"), "")
		item.Disable()
		m.deviceItems = append(m.deviceItems, item)
	}

	for _, device := range devices {
		item := m.menuDevices.AddSubMenuItemCheckbox(device.Name, deviceTooltip(device), device.ID == selected)
		m.deviceItems = append(m.deviceItems, item)

		ctx, cancel := context.WithCancel(context.Background())
		m.deviceCancel = append(m.deviceCancel, cancel)

		go func(id int, item *systray.MenuItem) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-item.ClickedCh:
					if m.actions.OnDeviceChange != nil {
						m.actions.OnDeviceChange(id)
					}
				}
			}
		}(device.ID, item)
	}

	m.apply(pipeline.Status{State: m.currentState(), Label: m.currentLabel()})
}

func (m *Manager) cancelDeviceItems() {
	for _, cancel := range m.deviceCancel {
		cancel()
	}
	m.deviceCancel = nil
}

func deviceTooltip(d audio.Device) string {
	if d.IsDefault {
		return "System default device"
	}
	return ""
}

// menuState reports whether Start and Stop are clickable in state
func menuState(state pipeline.State, canRecord bool) (start, stop bool) {
	switch {
	case state == pipeline.Recording:
		return false, true
	case state == pipeline.Idle || state.Terminal():
		return canRecord, false
	default:
		return false, false
	}
}

func tooltip(label string, err error) string {
	text := appName + " - " + label
	if err != nil {
		text += "\n" + err.Error()
	}
	return text
}

type iconKind int

const (
	iconIdle iconKind = iota
	iconRecording
	iconProcessing
	iconFailed
)

var iconFiles = map[iconKind]string{
	iconIdle:       "idle.png",
	iconRecording:  "recording.png",
	iconProcessing: "processing.png",
	iconFailed:     "failed.png",
}

func iconFor(state pipeline.State) iconKind {
	switch state {
	case pipeline.Recording:
		return iconRecording
	case pipeline.Failed:
		return iconFailed
	case pipeline.Idle, pipeline.Complete:
		return iconIdle
	default:
		return iconProcessing
	}
}

// loadIconData loads an icon from the assets directory next to the
// executable, falling back to a generated icon
func loadIconData(filename string, fallback []byte, log *logger.Logger) []byte {
	exe, err := os.Executable()
	if err != nil {
		log.Warn("実行ファイルのパスを取得できませんでした: %v", err)
		return fallback
	}

	iconPath := filepath.Join(filepath.Dir(exe), "assets", "icon", filename)
	data, err := os.ReadFile(iconPath)
	if err != nil {
		log.Debug("アイコンファイルを読み込めませんでした (%s): %v", iconPath, err)
		return fallback
	}

	return data
}

var iconColors = map[iconKind]color.RGBA{
	iconIdle:       {0xE3, 0xE3, 0xE3, 0xFF},
	iconRecording:  {0xF1, 0x9E, 0x39, 0xFF},
	iconProcessing: {0x75, 0xFB, 0x4C, 0xFF},
	iconFailed:     {0xE5, 0x39, 0x35, 0xFF},
}

// fallbackIcon draws a 32x32 filled circle in the colour of kind
func fallbackIcon(kind iconKind) []byte {
	const size = 32
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := iconColors[kind]

	r := float64(size)/2 - 2
	center := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - center
			dy := float64(y) + 0.5 - center
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
