package emu

import (
	"covm/frame"
)

// Host is the factory the client asks for components, plus the
// process-level collaborators they need (the framer and well-known
// paths). Registration is explicit; there is no reflection.
type Host struct {
	framer      frame.Framer
	machinePath string

	factories map[string]func(h *Host) Component
}

func NewHost(framer frame.Framer) *Host {
	h := &Host{
		framer:    framer,
		factories: make(map[string]func(h *Host) Component),
	}
	h.Register("computer", func(h *Host) Component { return newComputer(h) })
	h.Register("eeprom", func(h *Host) Component { return newEeprom(h) })
	h.Register("screen", func(h *Host) Component { return newScreen(h) })
	h.Register("keyboard", func(h *Host) Component { return newKeyboard(h) })
	h.Register("filesystem", func(h *Host) Component { return newFilesystem(h) })
	return h
}

// Register installs a constructor for the given type key, replacing
// any previous registration.
func (h *Host) Register(key string, fn func(h *Host) Component) {
	h.factories[key] = fn
}

// Create builds a component by type key, or nil if the key is
// unknown.
func (h *Host) Create(key string) Component {
	fn, ok := h.factories[key]
	if !ok {
		return nil
	}
	return fn(h)
}

// Framer returns the display backend components render to.
func (h *Host) Framer() frame.Framer { return h.framer }

// SetMachinePath overrides the machine script every computer boots.
// An empty path selects the embedded default driver.
func (h *Host) SetMachinePath(p string) { h.machinePath = p }
func (h *Host) MachinePath() string     { return h.machinePath }
