package hotkey

import "golang.design/x/hotkey"

const (
	altName = "Alt"
	cmdName = "Win"
)

func (s Spec) modifiers() []hotkey.Modifier {
	var mods []hotkey.Modifier
	if s.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if s.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if s.Alt {
		mods = append(mods, hotkey.ModAlt)
	}
	if s.Cmd {
		mods = append(mods, hotkey.ModWin)
	}
	return mods
}
