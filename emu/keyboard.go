package emu

import (
	"covm/frame"
	"covm/value"
)

// Keyboard forwards the terminal's key events to the computer as
// key_down/key_up signal pairs.
type Keyboard struct {
	base
	host *Host

	keys <-chan frame.Key
}

func newKeyboard(h *Host) *Keyboard {
	k := &Keyboard{
		base: newBase("keyboard"),
		host: h,
	}
	k.info = DeviceInfo{
		Class:       "input",
		Description: "Keyboard",
		Vendor:      "covm",
		Product:     "KeyMatrix",
	}
	return k
}

func (k *Keyboard) Initialize(c *Client, cfg value.Value) error {
	if err := k.initialize(c, cfg); err != nil {
		return err
	}
	if in, ok := k.host.Framer().(frame.Input); ok {
		k.keys = in.Keys()
	}
	return nil
}

// PostInit announces the keyboard to every screen, first come first
// served in insertion order.
func (k *Keyboard) PostInit() error {
	for _, pc := range k.client.Components("screen", true) {
		if scr, ok := pc.(*Screen); ok {
			scr.AddKeyboard(k.address)
		}
	}
	return nil
}

// Update drains the pending key events into the signal queue.
func (k *Keyboard) Update() RunState {
	for {
		select {
		case key, ok := <-k.keys:
			if !ok {
				k.keys = nil
				return Continue
			}
			k.client.PushSignal(value.PackOf("key_down", k.address, int64(key.Ch), int64(key.Code), "user"))
			k.client.PushSignal(value.PackOf("key_up", k.address, int64(key.Ch), int64(key.Code), "user"))
		default:
			return Continue
		}
	}
}
