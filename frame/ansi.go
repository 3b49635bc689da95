package frame

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
)

// AnsiTerm is the terminal framer. It renders attached frames to the
// controlling terminal, emitting cursor positioning and color changes
// only for cells that changed since the previous flush.
type AnsiTerm struct {
	screen    tcell.Screen
	newScreen func() (tcell.Screen, error) // test seam
	open      bool

	frames []*Frame
	dirty  map[*Frame]map[[2]int]struct{}

	keys chan Key
}

func NewAnsiTerm() *AnsiTerm {
	return &AnsiTerm{
		dirty: make(map[*Frame]map[[2]int]struct{}),
		keys:  make(chan Key, 64),
	}
}

// Open switches the terminal to raw-mode state and starts the input
// pump.
func (a *AnsiTerm) Open() error {
	if a.open {
		return nil
	}
	create := a.newScreen
	if create == nil {
		create = tcell.NewScreen
	}
	s, err := create()
	if err != nil {
		return fmt.Errorf("opening terminal: %w", err)
	}
	if err := s.Init(); err != nil {
		return fmt.Errorf("initializing terminal: %w", err)
	}
	s.HideCursor()
	a.screen = s
	a.open = true
	go a.pump(s)
	for _, f := range a.frames {
		a.invalidateFrame(f)
	}
	return nil
}

// Close restores the terminal. It is safe to call more than once.
func (a *AnsiTerm) Close() {
	if !a.open {
		return
	}
	a.open = false
	a.screen.Fini()
	a.screen = nil
}

// Add attaches f at the given z-order index; -1 appends.
func (a *AnsiTerm) Add(f *Frame, index int) bool {
	if f.Framer() != nil {
		return false
	}
	if index < 0 || index >= len(a.frames) {
		a.frames = append(a.frames, f)
	} else {
		a.frames = append(a.frames[:index], append([]*Frame{f}, a.frames[index:]...)...)
	}
	f.SetFramer(a)
	a.invalidateFrame(f)
	return true
}

func (a *AnsiTerm) Invalidate(f *Frame, x, y int) {
	d := a.dirty[f]
	if d == nil {
		d = make(map[[2]int]struct{})
		a.dirty[f] = d
	}
	d[[2]int{x, y}] = struct{}{}
}

func (a *AnsiTerm) OnResolution(f *Frame) {
	if a.open {
		a.screen.Clear()
	}
	for _, f := range a.frames {
		a.invalidateFrame(f)
	}
}

func (a *AnsiTerm) MaxResolution() (w, h int) {
	if a.open {
		return a.screen.Size()
	}
	return 160, 50
}

// Update writes every dirty cell in z-order and flushes the screen.
// With nothing dirty it emits no output.
func (a *AnsiTerm) Update() error {
	if !a.open {
		return nil
	}
	flushed := false
	for _, f := range a.frames {
		d := a.dirty[f]
		if len(d) == 0 {
			continue
		}
		flushed = true
		shadow := make(map[[2]int]struct{})
		for pos := range d {
			if runewidth.StringWidth(f.Get(pos[0], pos[1]).Glyph) > 1 {
				shadow[[2]int{pos[0] + 1, pos[1]}] = struct{}{}
			}
		}
		for pos := range d {
			if _, ok := shadow[pos]; ok {
				continue
			}
			x, y := pos[0], pos[1]
			cell := f.Get(x, y)
			runes := []rune(cell.Glyph)
			if len(runes) == 0 {
				runes = []rune{' '}
			}
			style := tcell.StyleDefault.
				Foreground(a.color(f, cell.FG)).
				Background(a.color(f, cell.BG))
			a.screen.SetContent(x-1, y-1, runes[0], runes[1:], style)
		}
		delete(a.dirty, f)
	}
	if flushed {
		a.screen.Show()
	}
	return nil
}

// Beep sounds the terminal bell. Frequency and duration are accepted
// for interface compatibility; the terminal bell has neither.
func (a *AnsiTerm) Beep(freq, duration float64) {
	if a.open {
		a.screen.Beep()
	}
}

// Keys returns the keyboard events read from the terminal.
func (a *AnsiTerm) Keys() <-chan Key { return a.keys }

func (a *AnsiTerm) color(f *Frame, c Color) tcell.Color {
	if c.Paletted {
		if rgb, ok := f.PaletteColor(c.RGB); ok {
			return tcell.NewHexColor(int32(rgb))
		}
		return tcell.PaletteColor(c.RGB & 0xff)
	}
	return tcell.NewHexColor(int32(c.RGB))
}

func (a *AnsiTerm) invalidateFrame(f *Frame) {
	w, h := f.Resolution()
	for y := 1; y <= h; y++ {
		for x := 1; x <= w; x++ {
			a.Invalidate(f, x, y)
		}
	}
}

func (a *AnsiTerm) pump(s tcell.Screen) {
	for {
		ev := s.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			k := Key{Ch: ev.Rune(), Code: int(ev.Key()), Name: ev.Name()}
			select {
			case a.keys <- k:
			default: // guest is not draining, drop
			}
		case *tcell.EventResize:
			s.Sync()
		}
	}
}
