package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

var namedKeys = map[string]hotkey.Key{
	"Space":  hotkey.KeySpace,
	"Return": hotkey.KeyReturn,
	"Escape": hotkey.KeyEscape,
	"Tab":    hotkey.KeyTab,
	"Delete": hotkey.KeyDelete,

	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD,
	"E": hotkey.KeyE, "F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH,
	"I": hotkey.KeyI, "J": hotkey.KeyJ, "K": hotkey.KeyK, "L": hotkey.KeyL,
	"M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO, "P": hotkey.KeyP,
	"Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX,
	"Y": hotkey.KeyY, "Z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,

	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
}

var keyAliases = map[string]string{
	"enter": "Return",
	"esc":   "Escape",
	"del":   "Delete",
}

// canonicalKey returns the map name for a case-insensitive key name or alias
func canonicalKey(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := keyAliases[lower]; ok {
		return alias, true
	}
	for known := range namedKeys {
		if strings.ToLower(known) == lower {
			return known, true
		}
	}
	return "", false
}

// ParseKey converts a key name such as "Space", "K" or "F5"
func ParseKey(name string) (hotkey.Key, error) {
	canonical, ok := canonicalKey(name)
	if !ok {
		return 0, fmt.Errorf("unsupported key: %q", name)
	}
	return namedKeys[canonical], nil
}

// SupportedKeys returns the accepted key names
func SupportedKeys() []string {
	keys := make([]string, 0, len(namedKeys))
	for name := range namedKeys {
		keys = append(keys, name)
	}
	return keys
}
