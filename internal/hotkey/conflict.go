package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

// Spec is a platform independent key combination as stored in the config
type Spec struct {
	Ctrl  bool
	Shift bool
	Alt   bool // Option on macOS
	Cmd   bool // Command on macOS, Super/Windows elsewhere
	Key   string
}

func (s Spec) String() string {
	return FormatHotkey(s)
}

// Validate checks that the key is known and at least one modifier is set
func (s Spec) Validate() error {
	if _, err := ParseKey(s.Key); err != nil {
		return err
	}
	if !s.Ctrl && !s.Shift && !s.Alt && !s.Cmd {
		return fmt.Errorf("at least one modifier key is required")
	}
	return nil
}

// Resolve returns the key and modifiers for the current platform
func (s Spec) Resolve() (hotkey.Key, []hotkey.Modifier, error) {
	if err := s.Validate(); err != nil {
		return 0, nil, err
	}
	key, _ := ParseKey(s.Key)
	return key, s.modifiers(), nil
}

func (s Spec) equal(other Spec) bool {
	return s.Ctrl == other.Ctrl && s.Shift == other.Shift && s.Alt == other.Alt &&
		s.Cmd == other.Cmd && strings.EqualFold(s.Key, other.Key)
}

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Spec        Spec
}

// knownConflicts lists common system and launcher shortcuts
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Spec:        Spec{Cmd: true, Key: "Space"},
	},
	{
		Name:        "Input Source",
		Description: "Switch input method",
		Spec:        Spec{Ctrl: true, Key: "Space"},
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Spec:        Spec{Cmd: true, Alt: true, Key: "Escape"},
	},
	{
		Name:        "Task Manager",
		Description: "Windows Task Manager",
		Spec:        Spec{Ctrl: true, Shift: true, Key: "Escape"},
	},
	{
		Name:        "Window Switcher",
		Description: "Switch windows",
		Spec:        Spec{Alt: true, Key: "Tab"},
	},
}

// CheckConflicts checks if the given hotkey conflicts with known system shortcuts
func CheckConflicts(spec Spec) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if known.Spec.equal(spec) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// FormatHotkey returns a human-readable string such as "Ctrl+Shift+Space"
func FormatHotkey(spec Spec) string {
	var parts []string

	if spec.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if spec.Shift {
		parts = append(parts, "Shift")
	}
	if spec.Alt {
		parts = append(parts, altName)
	}
	if spec.Cmd {
		parts = append(parts, cmdName)
	}

	key := spec.Key
	if name, ok := canonicalKey(spec.Key); ok {
		key = name
	}
	parts = append(parts, key)

	return strings.Join(parts, "+")
}
