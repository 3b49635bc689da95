package emu

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"

	"covm/frame"
	"covm/machine"
	"covm/value"
)

// State is the computer lifecycle state.
type State int

const (
	Off State = iota
	Booting
	Running
	Sleeping
	Halting
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Booting:
		return "booting"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Halting:
		return "halting"
	}
	return "unknown"
}

const (
	// signalCap is the queue high-water mark; beyond it the oldest
	// signal is silently dropped.
	signalCap = 256

	// memBaseline approximates the interpreter's fixed overhead.
	memBaseline = 64 << 10

	// exhaustedGrace is how many resumes an energy-starved machine
	// gets after the low_energy signal before it halts.
	exhaustedGrace = 100

	defaultMemory    = 2 << 20
	defaultMaxEnergy = 5000.0
)

// Computer hosts the guest interpreter and the machine lifecycle.
type Computer struct {
	base
	host *Host

	state       State
	machine     *machine.Machine
	machinePath string
	cfg         *value.Tbl

	signals []value.Pack

	tmpAddress string
	users      []string

	bootReal     time.Time
	lastTick     time.Time
	uptime       time.Duration
	standbyUntil time.Time
	forever      bool

	energy    float64
	maxEnergy float64
	lowWarned bool
	exhausted int

	memTotal   int
	traceEvery time.Duration

	crashed    bool
	initFailed bool
}

func newComputer(h *Host) *Computer {
	c := &Computer{
		base: newBase("computer"),
		host: h,
	}
	c.info = DeviceInfo{
		Class:       "system",
		Description: "Computer",
		Vendor:      "covm",
		Product:     "Componator",
	}
	c.add("address", "address():string -- the computer's own address", c.apiAddress)
	c.add("tmpAddress", "tmpAddress():string -- address of the temporary filesystem", c.apiTmpAddress)
	c.add("beep", "beep([frequency:number[, duration:number]]) -- sound a beep", c.apiBeep)
	c.add("freeMemory", "freeMemory():number -- unused interpreter memory in bytes", c.apiFreeMemory)
	c.add("totalMemory", "totalMemory():number -- configured memory ceiling in bytes", c.apiTotalMemory)
	c.add("energy", "energy():number -- currently stored energy", c.apiEnergy)
	c.add("maxEnergy", "maxEnergy():number -- maximum stored energy", c.apiMaxEnergy)
	c.add("realTime", "realTime():number -- wall-clock seconds since boot", c.apiRealTime)
	c.add("uptime", "uptime():number -- virtual seconds since boot", c.apiUptime)
	c.add("pushSignal", "pushSignal(name:string, ...) -- enqueue a signal", c.apiPushSignal)
	c.add("pullSignal", "pullSignal([timeout:number]) -- pop the next queued signal", c.apiPullSignal)
	c.add("addUser", "addUser(name:string):boolean -- allow a user to invoke this machine", c.apiAddUser)
	c.add("removeUser", "removeUser(name:string):boolean -- revoke a user", c.apiRemoveUser)
	c.add("users", "users():... -- the users allowed on this machine", c.apiUsers)
	c.add("isRobot", "isRobot():boolean -- false for computers", c.apiIsRobot)
	c.add("getArchitecture", "getArchitecture():string -- the active interpreter", c.apiGetArchitecture)
	c.add("setArchitecture", "setArchitecture(name:string) -- select the interpreter", c.apiSetArchitecture)
	c.add("getArchitectures", "getArchitectures():table -- the available interpreters", c.apiGetArchitectures)
	c.add("getDeviceInfo", "getDeviceInfo():table -- device descriptors by address", c.apiGetDeviceInfo)
	c.add("getProgramLocations", "getProgramLocations():table -- well-known guest program paths", c.apiGetProgramLocations)
	return c
}

func (c *Computer) Initialize(cl *Client, cfg value.Value) error {
	if err := c.initialize(cl, cfg); err != nil {
		return err
	}
	t := cfg.Table()
	c.cfg = t
	c.machinePath = c.host.MachinePath()
	if v := t.GetString("machine"); v.Kind() == value.KindString {
		c.machinePath = v.Str()
	}
	c.memTotal = defaultMemory
	if v := t.GetString("memory"); v.Kind() == value.KindInt || v.Kind() == value.KindNumber {
		c.memTotal = int(v.Int())
	}
	c.maxEnergy = defaultMaxEnergy
	if v := t.GetString("maxEnergy"); !v.IsNil() {
		c.maxEnergy = v.Float()
	}
	c.energy = c.maxEnergy
	c.traceEvery = time.Second
	if v := t.GetString("trace"); !v.IsNil() && v.Float() > 0 {
		c.traceEvery = time.Duration(v.Float() * float64(time.Second))
	}
	if v := t.GetString("users"); v.Kind() == value.KindTable {
		for i := int64(1); i <= v.Table().Len(); i++ {
			c.users = append(c.users, v.Table().GetIndex(i).Str())
		}
	}
	return nil
}

func (c *Computer) Close() {
	if c.machine != nil {
		c.machine.Halt()
		c.machine = nil
	}
	c.state = Off
}

// State and queue accessors used by the monitor.
func (c *Computer) State() State     { return c.state }
func (c *Computer) SignalCount() int { return len(c.signals) }
func (c *Computer) Crashed() bool    { return c.crashed }
func (c *Computer) InitFailed() bool { return c.initFailed }

// SetTmpAddress records the temporary filesystem's address; the tmpfs
// binds it during its own post-initialization.
func (c *Computer) SetTmpAddress(addr string) { c.tmpAddress = addr }

// Restart stops the running guest; the next update boots it afresh,
// re-reading the machine script.
func (c *Computer) Restart() { c.halt() }

// Energy and memory accessors used by the monitor.
func (c *Computer) Energy() (current, max float64) { return c.energy, c.maxEnergy }
func (c *Computer) Memory() (used, total int)      { return c.memUsed(), c.memTotal }
func (c *Computer) Uptime() time.Duration          { return c.uptime }

// PushSignal appends to the signal queue, dropping the oldest entry
// past the high-water mark.
func (c *Computer) PushSignal(p value.Pack) {
	if len(c.signals) >= signalCap {
		c.signals = c.signals[1:]
	}
	c.signals = append(c.signals, p.Clone())
}

// Update advances the machine one cooperative step.
func (c *Computer) Update() RunState {
	now := time.Now()
	if c.state != Off && !c.lastTick.IsZero() {
		c.uptime += now.Sub(c.lastTick)
	}
	c.lastTick = now

	switch c.state {
	case Off:
		state, err := c.boot()
		if err != nil {
			c.client.Log().Error("boot failed", "error", err)
			c.initFailed = true
			c.state = Off
			return Halt
		}
		return state
	case Halting:
		return Halt
	case Sleeping:
		if len(c.signals) == 0 && (c.forever || now.Before(c.standbyUntil)) {
			return Continue
		}
	}

	if c.energy <= 0 {
		c.exhausted++
		if c.exhausted > exhaustedGrace {
			c.client.Log().Error("energy exhausted, halting")
			c.halt()
			return Halt
		}
	}

	return c.resumeGuest()
}

func (c *Computer) boot() (RunState, error) {
	c.state = Booting
	sys := c.client.System()
	m := machine.New(c.client.Log(), machine.Policy{
		Timeout:      sys.Timeout,
		AllowExecute: sys.AllowBytecode,
		TraceEvery:   c.traceEvery,
	})
	if c.machinePath != "" {
		src, err := os.ReadFile(c.machinePath)
		if err != nil {
			return Halt, fmt.Errorf("loading machine script: %w", err)
		}
		m.SetSource(filepath.Base(c.machinePath), src)
	} else {
		m.SetSource(machine.DefaultName, machine.DefaultSource)
	}

	m.SetLib("component", c.client.library())
	m.SetLib("computer", c.library(m))

	c.machine = m
	c.bootReal = time.Now()
	c.uptime = 0
	c.energy = c.maxEnergy
	c.lowWarned = false
	c.exhausted = 0
	c.crashed = false

	y, err := m.Start()
	return c.applyYield(y, err), nil
}

func (c *Computer) resumeGuest() RunState {
	var sig value.Pack
	if len(c.signals) > 0 {
		sig = c.signals[0]
		c.signals = c.signals[1:]
	}
	c.drainEnergy(0.05)
	y, err := c.machine.Resume(sig)
	return c.applyYield(y, err)
}

func (c *Computer) applyYield(y machine.Yield, err error) RunState {
	if err != nil {
		c.client.Log().Error("machine crashed", "trace", machine.Backtrace(err))
		c.crashed = true
		c.halt()
		return Halt
	}
	switch y.Kind {
	case machine.Sleep:
		if y.Standby > 0 {
			c.state = Sleeping
			c.forever = math.IsInf(y.Standby, 1)
			if !c.forever {
				c.standbyUntil = time.Now().Add(time.Duration(y.Standby * float64(time.Second)))
			}
		} else {
			c.state = Running
		}
		return Continue
	case machine.Reboot:
		c.halt()
		return Reboot
	}
	c.halt()
	return Halt
}

func (c *Computer) halt() {
	c.state = Halting
	if c.machine != nil {
		c.machine.Halt()
		c.machine = nil
	}
	c.state = Off
}

func (c *Computer) drainEnergy(n float64) {
	if c.energy <= 0 {
		return
	}
	c.energy -= n
	if c.energy <= 0 {
		c.energy = 0
		if !c.lowWarned {
			c.lowWarned = true
			c.PushSignal(value.PackOf("low_energy", c.address))
		}
	}
}

func (c *Computer) memUsed() int {
	used := memBaseline
	if c.machine != nil {
		used += c.machine.SourceSize()
	}
	for _, sig := range c.signals {
		used += packBytes(sig)
	}
	return used
}

// library builds the guest computer module. Most entries wrap the
// component methods; pullSignal and shutdown need the machine's yield
// mechanism and are raw builtins.
func (c *Computer) library(m *machine.Machine) map[string]*starlark.Builtin {
	lib := make(map[string]*starlark.Builtin, len(c.order)+1)
	for _, name := range c.order {
		lib[name] = machine.Func(name, c.methods[name].F)
	}

	lib["pullSignal"] = starlark.NewBuiltin("pullSignal", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		timeout := math.Inf(1)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &timeout); err != nil {
			return nil, err
		}
		sig, err := m.YieldSleep(timeout)
		if err != nil {
			return nil, err
		}
		switch len(sig) {
		case 0:
			return starlark.None, nil
		case 1:
			return value.ToStarlark(sig[0]), nil
		}
		return sig.Tuple(), nil
	})

	lib["shutdown"] = starlark.NewBuiltin("shutdown", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reboot := false
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &reboot); err != nil {
			return nil, err
		}
		return nil, m.Shutdown(reboot)
	})

	return lib
}

func (c *Computer) apiAddress(value.Pack) (value.Pack, error) {
	return value.PackOf(c.address), nil
}

func (c *Computer) apiTmpAddress(value.Pack) (value.Pack, error) {
	return value.PackOf(c.tmpAddress), nil
}

func (c *Computer) apiBeep(args value.Pack) (value.Pack, error) {
	freq, err := value.OptArg[float64](args, 0, 440)
	if err != nil {
		return nil, err
	}
	dur, err := value.OptArg[float64](args, 1, 0.1)
	if err != nil {
		return nil, err
	}
	freq = math.Min(math.Max(freq, 20), 2000)
	dur = math.Min(math.Max(dur, 0.05), 5.0)
	c.drainEnergy(dur)
	if b, ok := c.host.Framer().(frame.Beeper); ok {
		b.Beep(freq, dur)
	}
	return nil, nil
}

func (c *Computer) apiFreeMemory(value.Pack) (value.Pack, error) {
	free := c.memTotal - c.memUsed()
	if free < 0 {
		free = 0
	}
	return value.PackOf(free), nil
}

func (c *Computer) apiTotalMemory(value.Pack) (value.Pack, error) {
	return value.PackOf(c.memTotal), nil
}

func (c *Computer) apiEnergy(value.Pack) (value.Pack, error) {
	return value.PackOf(c.energy), nil
}

func (c *Computer) apiMaxEnergy(value.Pack) (value.Pack, error) {
	return value.PackOf(c.maxEnergy), nil
}

func (c *Computer) apiRealTime(value.Pack) (value.Pack, error) {
	return value.PackOf(time.Since(c.bootReal).Seconds()), nil
}

func (c *Computer) apiUptime(value.Pack) (value.Pack, error) {
	return value.PackOf(c.uptime.Seconds()), nil
}

func (c *Computer) apiPushSignal(args value.Pack) (value.Pack, error) {
	if _, err := value.Arg[string](args, 0); err != nil {
		return nil, err
	}
	c.PushSignal(args)
	return value.PackOf(true), nil
}

// apiPullSignal is the non-suspending component-invoke form: it pops
// the head of the queue if one is waiting. The computer module's
// pullSignal yields to the host instead.
func (c *Computer) apiPullSignal(args value.Pack) (value.Pack, error) {
	if len(c.signals) == 0 {
		return nil, nil
	}
	sig := c.signals[0]
	c.signals = c.signals[1:]
	return sig, nil
}

func (c *Computer) apiAddUser(args value.Pack) (value.Pack, error) {
	name, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	for _, u := range c.users {
		if u == name {
			return value.PackOf(false), nil
		}
	}
	c.users = append(c.users, name)
	c.persistUsers()
	return value.PackOf(true), nil
}

func (c *Computer) apiRemoveUser(args value.Pack) (value.Pack, error) {
	name, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	for i, u := range c.users {
		if u == name {
			c.users = append(c.users[:i], c.users[i+1:]...)
			c.persistUsers()
			return value.PackOf(true), nil
		}
	}
	return value.PackOf(false), nil
}

func (c *Computer) apiUsers(value.Pack) (value.Pack, error) {
	res := make(value.Pack, len(c.users))
	for i, u := range c.users {
		res[i] = value.String(u)
	}
	return res, nil
}

func (c *Computer) apiIsRobot(value.Pack) (value.Pack, error) {
	return value.PackOf(false), nil
}

func (c *Computer) apiGetArchitecture(value.Pack) (value.Pack, error) {
	return value.PackOf("starlark"), nil
}

func (c *Computer) apiSetArchitecture(args value.Pack) (value.Pack, error) {
	name, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if name != "starlark" {
		return nil, fmt.Errorf("unknown architecture %q", name)
	}
	// already active, no reboot needed
	return value.PackOf(false), nil
}

func (c *Computer) apiGetArchitectures(value.Pack) (value.Pack, error) {
	t := value.NewTable()
	t.Table().Append(value.String("starlark"))
	return value.Pack{t}, nil
}

func (c *Computer) apiGetDeviceInfo(value.Pack) (value.Pack, error) {
	res := value.NewTable()
	for _, pc := range c.client.Components("", false) {
		info := pc.DeviceInfo()
		entry := value.NewTable()
		entry.Table().SetString("class", value.String(info.Class))
		entry.Table().SetString("description", value.String(info.Description))
		entry.Table().SetString("vendor", value.String(info.Vendor))
		entry.Table().SetString("product", value.String(info.Product))
		res.Table().SetString(pc.Address(), entry)
	}
	return value.Pack{res}, nil
}

func (c *Computer) apiGetProgramLocations(value.Pack) (value.Pack, error) {
	res := value.NewTable()
	res.Table().SetString("bios", value.String("/bios.star"))
	res.Table().SetString("shell", value.String("/shell.star"))
	return value.Pack{res}, nil
}

func (c *Computer) persistUsers() {
	if c.cfg == nil {
		return
	}
	list := value.NewTable()
	for _, u := range c.users {
		list.Table().Append(value.String(u))
	}
	c.cfg.SetString("users", list)
}

// packBytes estimates the in-queue size of a signal for memory
// accounting.
func packBytes(p value.Pack) int {
	n := 16
	for _, v := range p {
		switch v.Kind() {
		case value.KindString:
			n += 16 + len(v.Str())
		case value.KindTable:
			v.Table().Pairs(func(k, val value.Value) bool {
				n += packBytes(value.Pack{k, val})
				return true
			})
		default:
			n += 16
		}
	}
	return n
}
