// Package emu implements the component machine: the Client
// orchestrator, the component contract and its concrete kinds, the
// Host factory, and the TOML-backed configuration store.
package emu

import (
	"errors"

	"github.com/google/uuid"

	"covm/value"
)

// RunState is returned by component updates. Any value other than
// Continue short-circuits the tick and propagates outward.
type RunState int

const (
	Continue RunState = iota
	Reboot
	Halt
)

func (s RunState) String() string {
	switch s {
	case Continue:
		return "continue"
	case Reboot:
		return "reboot"
	case Halt:
		return "halt"
	}
	return "unknown"
}

// Method is one invokable entry of a component's method table.
type Method struct {
	F      func(args value.Pack) (value.Pack, error)
	Direct bool
	Doc    string
}

// DeviceInfo describes a component for the guest's device inventory.
type DeviceInfo struct {
	Class       string
	Description string
	Vendor      string
	Product     string
}

// Component is a hardware-like guest-visible object with an address,
// a type name, a slot, and a method table.
type Component interface {
	// Initialize binds the component to its client and extracts its
	// configuration. Called once, before PostInit.
	Initialize(c *Client, cfg value.Value) error
	// PostInit runs after every sibling exists.
	PostInit() error
	// Update advances the component by one tick.
	Update() RunState
	// Close releases resources. Idempotent.
	Close()

	Address() string
	Type() string
	Slot() int
	MethodNames() []string
	Method(name string) (Method, bool)
	Invoke(name string, args value.Pack) (value.Pack, error)
	Doc(name string) string
	DeviceInfo() DeviceInfo
}

var (
	errNoSuchMethod    = errors.New("no such method")
	errNoSuchComponent = errors.New("no such component")
)

// base carries the state and method registry shared by all component
// kinds. Concrete components embed it and register methods at
// construction.
type base struct {
	client  *Client
	address string
	typ     string
	slot    int

	methods map[string]Method
	order   []string

	info DeviceInfo
}

func newBase(typ string) base {
	return base{
		typ:     typ,
		slot:    -1,
		methods: make(map[string]Method),
	}
}

// add registers a method. All methods report direct dispatch.
func (b *base) add(name, doc string, f func(value.Pack) (value.Pack, error)) {
	b.methods[name] = Method{F: f, Direct: true, Doc: doc}
	b.order = append(b.order, name)
}

// initialize extracts address and slot from cfg, generating and
// persisting a fresh address when the configuration carries none so
// addresses are stable across runs.
func (b *base) initialize(c *Client, cfg value.Value) error {
	b.client = c
	if cfg.Kind() != value.KindTable {
		return errors.New("component configuration must be a table")
	}
	t := cfg.Table()
	if addr := t.GetString("address"); addr.Kind() == value.KindString && addr.Str() != "" {
		b.address = addr.Str()
	} else {
		b.address = uuid.NewString()
		t.SetString("address", value.String(b.address))
	}
	if slot := t.GetString("slot"); slot.Kind() == value.KindInt || slot.Kind() == value.KindNumber {
		b.slot = int(slot.Int())
	}
	return nil
}

func (b *base) PostInit() error  { return nil }
func (b *base) Update() RunState { return Continue }
func (b *base) Close()           {}
func (b *base) Address() string  { return b.address }
func (b *base) Type() string     { return b.typ }
func (b *base) Slot() int        { return b.slot }

func (b *base) MethodNames() []string { return b.order }

func (b *base) Method(name string) (Method, bool) {
	m, ok := b.methods[name]
	return m, ok
}

// Invoke dispatches a method call. Failures are guest-visible: the
// caller translates a non-nil error into a (nil, message) return.
func (b *base) Invoke(name string, args value.Pack) (value.Pack, error) {
	m, ok := b.methods[name]
	if !ok {
		return nil, errNoSuchMethod
	}
	return m.F(args)
}

func (b *base) Doc(name string) string {
	return b.methods[name].Doc
}

func (b *base) DeviceInfo() DeviceInfo { return b.info }
