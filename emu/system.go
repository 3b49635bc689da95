package emu

import "covm/value"

// System carries the global interpreter policies from the config's
// system section. It is owned by the Client, not process-global.
type System struct {
	// Timeout is the per-resume execution budget in seconds.
	Timeout float64
	// AllowBytecode permits the guest execute builtin.
	AllowBytecode bool
	// AllowGC permits guest-requested collections. The Starlark
	// interpreter has no explicit collector; the policy is read from
	// and written to the config only, and is neither enforced nor
	// exposed to the guest.
	AllowGC bool
}

func defaultSystem() System {
	return System{Timeout: 5, AllowBytecode: true, AllowGC: true}
}

func (s *System) apply(cfg value.Value) {
	if cfg.Kind() != value.KindTable {
		return
	}
	t := cfg.Table()
	if v := t.GetString("timeout"); !v.IsNil() {
		s.Timeout = v.Float()
	}
	if v := t.GetString("allowBytecode"); v.Kind() == value.KindBool {
		s.AllowBytecode = v.Bool()
	}
	if v := t.GetString("allowGC"); v.Kind() == value.KindBool {
		s.AllowGC = v.Bool()
	}
}
