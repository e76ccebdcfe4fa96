// Package notification sends desktop notifications when a run ends
package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/yok-tottii/EzVoice/internal/i18n"
	"github.com/yok-tottii/EzVoice/internal/logger"
	"github.com/yok-tottii/EzVoice/internal/pipeline"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	// TypeInfo is an informational notification
	TypeInfo NotificationType = "info"
	// TypeWarning is a warning notification
	TypeWarning NotificationType = "warning"
	// TypeError is an error notification
	TypeError NotificationType = "error"
	// TypeSuccess is a success notification
	TypeSuccess NotificationType = "success"
)

// Notification represents a desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// NotificationManager handles sending notifications to the user
type NotificationManager struct {
	appName    string
	goos       string
	translator *i18n.Translator
	logger     *logger.Logger
	enabled    func() bool

	run func(name string, args ...string) error
}

// NewNotificationManager creates a new notification manager
func NewNotificationManager(appName string, translator *i18n.Translator, log *logger.Logger) *NotificationManager {
	if translator == nil {
		translator = i18n.NewDefaultTranslator(i18n.LanguageEnglish)
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	return &NotificationManager{
		appName:    appName,
		goos:       runtime.GOOS,
		translator: translator,
		logger:     log,
		enabled:    func() bool { return true },
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// SetEnabled sets the switch consulted before every notification
func (nm *NotificationManager) SetEnabled(enabled func() bool) {
	nm.enabled = enabled
}

// Send sends a notification through the platform notifier
func (nm *NotificationManager) Send(notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if !nm.enabled() {
		return nil
	}

	name, args, err := command(nm.goos, notification)
	if err != nil {
		return err
	}
	if err := nm.run(name, args...); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// SendInfo sends an informational notification
func (nm *NotificationManager) SendInfo(message string) error {
	return nm.Send(&Notification{Title: nm.appName, Message: message, Type: TypeInfo})
}

// SendWarning sends a warning notification
func (nm *NotificationManager) SendWarning(message string) error {
	return nm.Send(&Notification{Title: nm.appName, Message: message, Type: TypeWarning})
}

// SendError sends an error notification
func (nm *NotificationManager) SendError(message string) error {
	return nm.Send(&Notification{Title: nm.appName, Message: message, Type: TypeError})
}

// SendSuccess sends a success notification
func (nm *NotificationManager) SendSuccess(message string) error {
	return nm.Send(&Notification{Title: nm.appName, Message: message, Type: TypeSuccess})
}

// Deliver implements pipeline.Observer: Complete and Failed are announced.
// The notifier process runs on its own goroutine.
func (nm *NotificationManager) Deliver(status pipeline.Status) {
	n := nm.forStatus(status)
	if n == nil {
		return
	}
	go func() {
		if err := nm.Send(n); err != nil {
			nm.logger.Warn("通知の送信に失敗: %v", err)
		}
	}()
}

func (nm *NotificationManager) forStatus(status pipeline.Status) *Notification {
	switch status.State {
	case pipeline.Complete:
		return &Notification{
			Title:   nm.appName,
			Message: nm.translator.Translate("notification.complete"),
			Type:    TypeSuccess,
		}
	case pipeline.Failed:
		message := nm.translator.Translate("notification.failed")
		if status.Err != nil {
			message += ": " + status.Err.Error()
		}
		return &Notification{Title: nm.appName, Message: message, Type: TypeError}
	default:
		return nil
	}
}

// AutoStopped announces that the max record time stopped a recording
func (nm *NotificationManager) AutoStopped() error {
	return nm.SendWarning(nm.translator.Translate("notification.auto_stop"))
}

// DeviceNotFound announces that no input device is available
func (nm *NotificationManager) DeviceNotFound() error {
	return nm.SendError(nm.translator.Translate("notification.no_device"))
}

// MissingAPIKey announces that the LLM key is not configured
func (nm *NotificationManager) MissingAPIKey() error {
	return nm.SendWarning(nm.translator.Translate("notification.missing_key"))
}

// HotkeyFailed announces that the global hotkey could not be registered
func (nm *NotificationManager) HotkeyFailed(err error) error {
	return nm.SendError(nm.translator.TranslateWithFormat("notification.hotkey_failed", map[string]string{"error": err.Error()}))
}

// ReplyCopied announces that the last reply is on the clipboard
func (nm *NotificationManager) ReplyCopied() error {
	return nm.SendInfo(nm.translator.Translate("notification.copied"))
}

// command returns the notifier invocation for goos
func command(goos string, n *Notification) (string, []string, error) {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			escapeAppleScript(n.Message), escapeAppleScript(n.Title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd":
		urgency := "normal"
		if n.Type == TypeError {
			urgency = "critical"
		}
		return "notify-send", []string{"-u", urgency, n.Title, n.Message}, nil
	case "windows":
		script := fmt.Sprintf(`New-BurntToastNotification -Text '%s', '%s'`,
			escapePowerShell(n.Title), escapePowerShell(n.Message))
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	default:
		return "", nil, fmt.Errorf("notifications are not supported on %s", goos)
	}
}

// escapeAppleScript escapes special characters for AppleScript
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}

func escapePowerShell(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
