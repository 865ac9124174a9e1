package common

import "errors"

// ErrModulePaused is returned when an operation runs against a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module's flows are currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name leaves the operation ungated.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
