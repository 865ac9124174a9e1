package common

import (
	"errors"
	"testing"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil pause view must allow: %v", err)
	}
	if err := Guard(pauseMap{}, "lending"); err != nil {
		t.Fatalf("unpaused module must allow: %v", err)
	}
	err := Guard(pauseMap{"lending": true}, "lending")
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauseMap{"lending": true}, "other"); err != nil {
		t.Fatalf("pause must be scoped to the named module: %v", err)
	}
}
