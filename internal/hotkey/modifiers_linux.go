package hotkey

import "golang.design/x/hotkey"

const (
	altName = "Alt"
	cmdName = "Super"
)

// X11 maps Alt to Mod1 and Super to Mod4
func (s Spec) modifiers() []hotkey.Modifier {
	var mods []hotkey.Modifier
	if s.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if s.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if s.Alt {
		mods = append(mods, hotkey.Mod1)
	}
	if s.Cmd {
		mods = append(mods, hotkey.Mod4)
	}
	return mods
}
