// Package machine runs the guest program as a coroutine: the Starlark
// interpreter executes on its own goroutine and suspends at yield
// points (pull-signal, shutdown) so the host can drive it one resume
// at a time. Exactly one of the pair runs at any instant; the
// handshake channels are the only shared state.
package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"covm/value"
)

// YieldKind is what the guest asked for when it suspended.
type YieldKind int

const (
	Sleep YieldKind = iota
	Halt
	Reboot
)

// Yield describes one suspension of the guest.
type Yield struct {
	Kind    YieldKind
	Standby float64 // seconds until the guest wants waking; Sleep only
}

// Policy carries the interpreter limits the machine enforces.
type Policy struct {
	// Timeout is the budget per resume, in seconds. It is mapped to a
	// Starlark execution-step budget, not measured on the clock; a
	// guest that overruns it is cancelled and Start or Resume returns
	// the cancellation error.
	Timeout float64
	// AllowExecute permits the execute builtin that runs guest
	// source at runtime (the bios path).
	AllowExecute bool
	// TraceEvery throttles call-stack trace sampling.
	TraceEvery time.Duration
}

// stepsPerSecond approximates interpreter throughput for mapping the
// timeout policy onto a step budget.
const stepsPerSecond = 1e7

var (
	errHalted     = errors.New("machine halted")
	errNotStarted = errors.New("machine not started")
	ErrNoSource   = errors.New("no machine source loaded")
)

// shutdownError unwinds the guest out of ExecFile when it calls
// shutdown.
type shutdownError struct {
	reboot bool
}

func (e *shutdownError) Error() string {
	if e.reboot {
		return "reboot"
	}
	return "shutdown"
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Machine is one guest interpreter instance. It is not reusable; a
// reboot builds a fresh Machine.
type Machine struct {
	log    *slog.Logger
	policy Policy

	name string
	src  []byte

	predecl starlark.StringDict
	thread  *starlark.Thread

	resume chan value.Pack
	yields chan Yield
	done   chan struct{}
	quit   chan struct{}

	started   bool
	halted    bool
	err       error
	final     Yield
	lastTrace time.Time
}

func New(log *slog.Logger, policy Policy) *Machine {
	if policy.TraceEvery <= 0 {
		policy.TraceEvery = time.Second
	}
	m := &Machine{
		log:     log,
		policy:  policy,
		predecl: make(starlark.StringDict),
		resume:  make(chan value.Pack),
		yields:  make(chan Yield),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	m.predecl["execute"] = starlark.NewBuiltin("execute", m.executeBuiltin)
	return m
}

// SetSource loads the machine program. name is used in backtraces.
func (m *Machine) SetSource(name string, src []byte) {
	m.name, m.src = name, src
}

// SourceSize returns the loaded program size in bytes, for memory
// accounting.
func (m *Machine) SourceSize() int { return len(m.src) }

// SetLib registers a guest-visible module built from Pack-based host
// functions. Must be called before Start.
func (m *Machine) SetLib(name string, fns map[string]*starlark.Builtin) {
	members := make(starlark.StringDict, len(fns))
	for fname, fn := range fns {
		members[fname] = fn
	}
	m.predecl[name] = &starlarkstruct.Module{Name: name, Members: members}
}

// Func wraps a Pack-based host function as a Starlark builtin. A nil
// error maps to the function's results (None for an empty pack); a
// non-nil error maps to the guest-visible failure pair
// (None, message) and never aborts the host.
func Func(name string, fn func(value.Pack) (value.Pack, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword argument", b.Name())
		}
		p, err := value.PackFromTuple(args)
		if err != nil {
			return nil, err
		}
		res, err := fn(p)
		if err != nil {
			return starlark.Tuple{starlark.None, starlark.String(err.Error())}, nil
		}
		switch len(res) {
		case 0:
			return starlark.None, nil
		case 1:
			return value.ToStarlark(res[0]), nil
		}
		return res.Tuple(), nil
	})
}

// Start launches the guest goroutine and runs the program to its
// first yield. The returned Yield is the guest's initial suspension;
// a program that returns without yielding reports a Halt.
func (m *Machine) Start() (Yield, error) {
	if m.started {
		return Yield{}, errors.New("machine already started")
	}
	if len(m.src) == 0 {
		return Yield{}, ErrNoSource
	}
	m.started = true
	m.thread = &starlark.Thread{
		Name: "machine",
		Print: func(_ *starlark.Thread, msg string) {
			m.log.Info(msg, "source", "guest")
		},
	}
	m.armWatchdog()
	go m.run()
	return m.wait()
}

// Resume delivers a signal (possibly empty) to the suspended guest
// and runs it to its next yield.
func (m *Machine) Resume(signal value.Pack) (Yield, error) {
	if !m.started {
		return Yield{}, errNotStarted
	}
	select {
	case m.resume <- signal:
	case <-m.done:
		return m.finalState()
	}
	return m.wait()
}

// Halt cancels the guest at its next suspension or loop check and
// waits for the goroutine to finish. Safe to call more than once.
func (m *Machine) Halt() {
	if !m.started || m.halted {
		return
	}
	m.halted = true
	close(m.quit)
	m.thread.Cancel("halted")
	<-m.done
}

// Backtrace returns the guest stack trace carried by err, or the
// plain error text.
func Backtrace(err error) string {
	var ee *starlark.EvalError
	if errors.As(err, &ee) {
		return ee.Backtrace()
	}
	return err.Error()
}

func (m *Machine) wait() (Yield, error) {
	select {
	case y := <-m.yields:
		return y, nil
	case <-m.done:
		return m.finalState()
	}
}

func (m *Machine) finalState() (Yield, error) {
	if m.err != nil {
		return Yield{}, m.err
	}
	return m.final, nil
}

func (m *Machine) run() {
	defer close(m.done)
	_, err := starlark.ExecFileOptions(fileOptions, m.thread, m.name, m.src, m.predecl)
	if err == nil {
		m.final = Yield{Kind: Halt}
		return
	}
	var sd *shutdownError
	switch {
	case errors.As(err, &sd):
		if sd.reboot {
			m.final = Yield{Kind: Reboot}
		} else {
			m.final = Yield{Kind: Halt}
		}
	case errors.Is(err, errHalted), strings.Contains(err.Error(), "cancelled: halted"):
		m.final = Yield{Kind: Halt}
	default:
		m.err = err
	}
}

// YieldSleep suspends the guest until the host resumes it with a
// signal. Called on the guest goroutine by the pull-signal builtin.
func (m *Machine) YieldSleep(standby float64) (value.Pack, error) {
	m.maybeTrace()
	select {
	case m.yields <- Yield{Kind: Sleep, Standby: standby}:
	case <-m.quit:
		return nil, errHalted
	}
	select {
	case sig := <-m.resume:
		m.armWatchdog()
		return sig, nil
	case <-m.quit:
		return nil, errHalted
	}
}

// Shutdown unwinds the guest with a halt or reboot. Called on the
// guest goroutine; the returned error must be propagated out of the
// builtin.
func (m *Machine) Shutdown(reboot bool) error {
	return &shutdownError{reboot: reboot}
}

func (m *Machine) armWatchdog() {
	if m.policy.Timeout <= 0 {
		return
	}
	budget := uint64(m.policy.Timeout * stepsPerSecond)
	m.thread.SetMaxExecutionSteps(m.thread.ExecutionSteps() + budget)
}

func (m *Machine) maybeTrace() {
	now := time.Now()
	if now.Sub(m.lastTrace) < m.policy.TraceEvery {
		return
	}
	m.lastTrace = now
	m.log.Debug("guest stack", "trace", m.thread.CallStack().String())
}

func (m *Machine) executeBuiltin(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &src, &name); err != nil {
		return nil, err
	}
	if !m.policy.AllowExecute {
		return starlark.Tuple{starlark.None, starlark.String("bytecode execution is disabled")}, nil
	}
	if name == "" {
		name = "=code"
	}
	if _, err := starlark.ExecFileOptions(fileOptions, t, name, src, m.predecl); err != nil {
		var sd *shutdownError
		if errors.As(err, &sd) || errors.Is(err, errHalted) {
			return nil, err
		}
		return starlark.Tuple{starlark.None, starlark.String(err.Error())}, nil
	}
	return starlark.True, nil
}
