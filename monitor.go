package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"covm/emu"
	"covm/frame"
	"covm/value"
)

// monitorView inspects a running machine: the screen contents
// rendered as text, the computer state, the diagnostic tail, and an
// input field that injects signals ("name arg1 arg2 ...").
type monitorView struct {
	app    *tview.Application
	state  *tview.TextView
	screen *tview.TextView
	logV   *tview.TextView
	input  *tview.InputField

	framer *monitorFramer

	mu       sync.Mutex
	client   *emu.Client
	logFrame *frame.Frame
	pending  []value.Pack
}

func newMonitorView() *monitorView {
	m := &monitorView{
		state:  tview.NewTextView(),
		screen: tview.NewTextView(),
		logV:   tview.NewTextView(),
		input:  tview.NewInputField(),
	}
	m.framer = &monitorFramer{view: m}

	m.screen.SetBorder(true).SetTitle("screen")
	m.state.SetBorder(true).SetTitle("computer")
	m.logV.SetBorder(true).SetTitle("log")
	m.input.SetLabel("signal> ")
	m.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(m.input.GetText())
		m.input.SetText("")
		if text == "" {
			return
		}
		m.mu.Lock()
		m.pending = append(m.pending, parseSignal(text))
		m.mu.Unlock()
	})

	rows := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(m.screen, 0, 3, false).
		AddItem(m.state, 6, 0, false).
		AddItem(m.logV, 8, 0, false).
		AddItem(m.input, 1, 0, true)
	m.app = tview.NewApplication().SetRoot(rows, true)
	return m
}

func (m *monitorView) attach(c *emu.Client, logFrame *frame.Frame) {
	m.mu.Lock()
	m.client = c
	m.logFrame = logFrame
	m.mu.Unlock()
}

func (m *monitorView) Run() error { return m.app.Run() }
func (m *monitorView) Stop()      { m.app.Stop() }

// parseSignal splits "name arg1 arg2 ..." into a signal pack,
// auto-detecting numeric and boolean arguments.
func parseSignal(text string) value.Pack {
	fields := strings.Fields(text)
	p := make(value.Pack, 0, len(fields))
	for i, f := range fields {
		if i == 0 {
			p = append(p, value.String(f))
			continue
		}
		if n, err := strconv.ParseInt(f, 10, 64); err == nil {
			p = append(p, value.Integer(n))
		} else if x, err := strconv.ParseFloat(f, 64); err == nil {
			p = append(p, value.Number(x))
		} else if b, err := strconv.ParseBool(f); err == nil {
			p = append(p, value.Boolean(b))
		} else {
			p = append(p, value.String(f))
		}
	}
	return p
}

// refresh repaints the monitor; called from the tick goroutine by the
// monitor framer.
func (m *monitorView) refresh(screenText string) {
	m.mu.Lock()
	client := m.client
	logFrame := m.logFrame
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if client == nil {
		return
	}
	for _, sig := range pending {
		client.PushSignal(sig)
	}

	stateText := "no computer"
	if cmp := client.Computer(); cmp != nil {
		energy, maxEnergy := cmp.Energy()
		used, total := cmp.Memory()
		stateText = fmt.Sprintf("state: %s\nsignals: %d queued\nenergy: %.1f / %.1f\nmemory: %d / %d bytes  uptime: %.1fs",
			cmp.State(), cmp.SignalCount(), energy, maxEnergy, used, total, cmp.Uptime().Seconds())
	}
	logText := ""
	if logFrame != nil {
		logText = frameText(logFrame)
	}

	m.app.QueueUpdateDraw(func() {
		if screenText != "" {
			m.screen.SetText(screenText)
		}
		m.state.SetText(stateText)
		m.logV.SetText(logText)
	})
}

// frameText renders a frame's glyphs as plain lines.
func frameText(f *frame.Frame) string {
	w, h := f.Resolution()
	var b strings.Builder
	for y := 1; y <= h; y++ {
		for x := 1; x <= w; x++ {
			b.WriteString(f.Get(x, y).Glyph)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), " \n")
}

// monitorFramer is the Framer behind the monitor: instead of a
// terminal it flushes into the monitor's text views.
type monitorFramer struct {
	view   *monitorView
	frames []*frame.Frame
	dirty  bool
}

func (m *monitorFramer) Open() error { return nil }
func (m *monitorFramer) Close()      {}

func (m *monitorFramer) Add(f *frame.Frame, index int) bool {
	if f.Framer() != nil {
		return false
	}
	if index < 0 || index >= len(m.frames) {
		m.frames = append(m.frames, f)
	} else {
		m.frames = append(m.frames[:index], append([]*frame.Frame{f}, m.frames[index:]...)...)
	}
	f.SetFramer(m)
	m.dirty = true
	return true
}

func (m *monitorFramer) Invalidate(*frame.Frame, int, int) { m.dirty = true }
func (m *monitorFramer) OnResolution(*frame.Frame)         { m.dirty = true }
func (m *monitorFramer) MaxResolution() (int, int)         { return 160, 50 }

func (m *monitorFramer) Update() error {
	screenText := ""
	if m.dirty && len(m.frames) > 0 {
		screenText = frameText(m.frames[0])
		m.dirty = false
	}
	m.view.refresh(screenText)
	return nil
}
