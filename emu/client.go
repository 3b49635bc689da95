package emu

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"covm/machine"
	"covm/value"
)

// Client is the top-level orchestrator: it owns the configuration and
// the ordered component list, binds the distinguished computer, and
// drives the per-tick loop. It is also the guest-visible component
// library.
type Client struct {
	host    *Host
	log     *slog.Logger
	envPath string

	config     *Config
	system     System
	components []Component
	computer   *Computer
}

// New builds a client over the environment directory, creating the
// directory if needed. The logger is the injected diagnostic sink for
// the whole machine.
func New(host *Host, envPath string, log *slog.Logger) *Client {
	if abs, err := filepath.Abs(envPath); err == nil {
		envPath = abs
	}
	os.MkdirAll(envPath, 0o755)
	return &Client{
		host:    host,
		log:     log,
		envPath: envPath,
		system:  defaultSystem(),
	}
}

func (c *Client) Host() *Host         { return c.host }
func (c *Client) Log() *slog.Logger   { return c.log }
func (c *Client) EnvPath() string     { return c.envPath }
func (c *Client) Computer() *Computer { return c.computer }
func (c *Client) System() *System     { return &c.system }

// Load builds the machine from configuration. It reports whether the
// client is fully initialized; on failure a diagnostic is logged and
// Close remains safe to call.
func (c *Client) Load() bool {
	if c.config != nil {
		c.log.Error("client is either already loaded or did not close properly")
		return false
	}

	c.config = NewConfig(c.envPath, "client")
	if !c.config.Exists() {
		c.config.Set("components", defaultComponents())
		c.config.Set("system", defaultSystemSection())
		if err := c.config.Save(); err != nil {
			c.log.Error("failed to create client config", "error", err)
			return false
		}
	} else if err := c.config.Load(); err != nil {
		c.log.Error("failed to load client config", "error", err)
		return false
	}

	if !c.createComponents() {
		return false
	}
	c.log.Info("components loaded", "count", len(c.components))

	if c.computer == nil {
		c.log.Error("emulation requires exactly one computer component")
		return false
	}

	for _, pc := range c.components {
		if err := pc.PostInit(); err != nil {
			c.log.Error("component failed to post-initialize",
				"type", pc.Type(), "address", pc.Address(), "error", err)
			return false
		}
	}
	c.log.Info("components post initialized")

	return true
}

func (c *Client) createComponents() bool {
	for _, section := range c.config.Keys() {
		data := c.config.Get(section)
		switch section {
		case "components":
			if data.Kind() != value.KindTable {
				c.log.Error("components section must be a list")
				return false
			}
			count := data.Table().Len()
			for index := int64(1); index <= count; index++ {
				entry := data.Table().GetIndex(index)
				if entry.Kind() != value.KindTable {
					continue
				}
				key := entry.Table().GetString("key").Str()
				pc := c.host.Create(key)
				if pc == nil {
					c.log.Error("the host could not create component", "key", key)
					return false
				}
				if err := pc.Initialize(c, entry); err != nil {
					c.log.Error("component failed to initialize", "key", key, "error", err)
					return false
				}
				if cmp, ok := pc.(*Computer); ok {
					if c.computer != nil {
						c.log.Error("emulation requires exactly one computer component")
						return false
					}
					c.computer = cmp
				}
				c.components = append(c.components, pc)
				c.log.Info("component ready", "key", key, "address", pc.Address())
			}
		case "system":
			c.system.apply(data)
		}
	}
	return true
}

// Run updates every component in insertion order and returns the
// first non-Continue state.
func (c *Client) Run() RunState {
	for _, pc := range c.components {
		if state := pc.Update(); state != Continue {
			return state
		}
	}
	return Continue
}

// Close persists the configuration and destroys all components. It is
// idempotent and always releases the machine state, even after a
// failed Load.
func (c *Client) Close() {
	if c.config != nil {
		if err := c.config.Save(); err != nil {
			c.log.Error("failed to save client config", "error", err)
		}
		c.config = nil
	}
	for _, pc := range c.components {
		pc.Close()
	}
	c.components = nil
	c.computer = nil
}

// Components returns the components whose type starts with filter,
// or, with exact set, equals it. Order follows insertion order.
func (c *Client) Components(filter string, exact bool) []Component {
	var result []Component
	for _, pc := range c.components {
		typ := pc.Type()
		if !strings.HasPrefix(typ, filter) {
			continue
		}
		if exact && typ != filter {
			continue
		}
		result = append(result, pc)
	}
	return result
}

// Component returns the component with the given address, or nil.
func (c *Client) Component(address string) Component {
	for _, pc := range c.components {
		if pc.Address() == address {
			return pc
		}
	}
	return nil
}

// PushSignal enqueues a signal on the computer. It reports false when
// no computer is bound.
func (c *Client) PushSignal(p value.Pack) bool {
	if c.computer == nil {
		return false
	}
	c.computer.PushSignal(p)
	return true
}

// library returns the guest-visible component library.
func (c *Client) library() map[string]*starlark.Builtin {
	return map[string]*starlark.Builtin{
		"list":    machine.Func("list", c.componentList),
		"invoke":  machine.Func("invoke", c.componentInvoke),
		"methods": machine.Func("methods", c.componentMethods),
		"type":    machine.Func("type", c.componentType),
		"slot":    machine.Func("slot", c.componentSlot),
		"doc":     machine.Func("doc", c.componentDoc),
	}
}

func (c *Client) componentList(args value.Pack) (value.Pack, error) {
	filter, err := value.OptArg[string](args, 0, "")
	if err != nil {
		return nil, err
	}
	exact, err := value.OptArg[bool](args, 1, false)
	if err != nil {
		return nil, err
	}
	// a nil filter forces a prefix match regardless of exact
	if args.At(0).IsNil() {
		exact = false
	}

	result := value.NewTable()
	for _, pc := range c.Components(filter, exact) {
		result.Table().SetString(pc.Address(), value.String(pc.Type()))
	}
	return value.Pack{result}, nil
}

func (c *Client) componentInvoke(args value.Pack) (value.Pack, error) {
	address, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	methodName, err := value.Arg[string](args, 1)
	if err != nil {
		return nil, err
	}

	pc := c.Component(address)
	if pc == nil {
		return nil, fmt.Errorf("no such component %s", address)
	}

	rest := args[2:]
	res, err := pc.Invoke(methodName, rest)
	if err != nil {
		return nil, err
	}
	// the true prefix lets the guest tell results from host errors
	return append(value.Pack{value.Boolean(true)}, res...), nil
}

func (c *Client) componentMethods(args value.Pack) (value.Pack, error) {
	address, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	pc := c.Component(address)
	if pc == nil {
		return nil, errNoSuchComponent
	}

	mpack := value.NewTable()
	for _, name := range pc.MethodNames() {
		info := value.NewTable()
		info.Table().SetString("direct", value.Boolean(true))
		mpack.Table().SetString(name, info)
	}
	return value.Pack{mpack}, nil
}

func (c *Client) componentType(args value.Pack) (value.Pack, error) {
	address, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	pc := c.Component(address)
	if pc == nil {
		return nil, errNoSuchComponent
	}
	return value.PackOf(pc.Type()), nil
}

func (c *Client) componentSlot(args value.Pack) (value.Pack, error) {
	address, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	pc := c.Component(address)
	if pc == nil {
		return nil, errNoSuchComponent
	}
	return value.PackOf(pc.Slot()), nil
}

func (c *Client) componentDoc(args value.Pack) (value.Pack, error) {
	address, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	methodName, err := value.Arg[string](args, 1)
	if err != nil {
		return nil, err
	}
	pc := c.Component(address)
	if pc == nil {
		return nil, errNoSuchComponent
	}
	return value.PackOf(pc.Doc(methodName)), nil
}

func defaultComponents() value.Value {
	list := value.NewTable()
	for _, key := range []string{"computer", "eeprom", "screen", "keyboard"} {
		entry := value.NewTable()
		entry.Table().SetString("key", value.String(key))
		list.Table().Append(entry)
	}
	tmp := value.NewTable()
	tmp.Table().SetString("key", value.String("filesystem"))
	tmp.Table().SetString("tmpfs", value.Boolean(true))
	list.Table().Append(tmp)
	fs := value.NewTable()
	fs.Table().SetString("key", value.String("filesystem"))
	list.Table().Append(fs)
	return list
}

func defaultSystemSection() value.Value {
	s := defaultSystem()
	section := value.NewTable()
	section.Table().SetString("timeout", value.Number(s.Timeout))
	section.Table().SetString("allowBytecode", value.Boolean(s.AllowBytecode))
	section.Table().SetString("allowGC", value.Boolean(s.AllowGC))
	return section
}
