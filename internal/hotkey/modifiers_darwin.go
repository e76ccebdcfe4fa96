package hotkey

import "golang.design/x/hotkey"

const (
	altName = "Option"
	cmdName = "Cmd"
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
		mods = append(mods, hotkey.ModOption)
	}
	if s.Cmd {
		mods = append(mods, hotkey.ModCmd)
	}
	return mods
}
