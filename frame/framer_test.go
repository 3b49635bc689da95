package frame

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

// recorder is a Framer that records invalidations.
type recorder struct {
	frames []*Frame
	marks  [][3]any
	res    [2]int
}

func (r *recorder) Open() error { return nil }
func (r *recorder) Close()      {}
func (r *recorder) Add(f *Frame, index int) bool {
	r.frames = append(r.frames, f)
	f.SetFramer(r)
	return true
}
func (r *recorder) Invalidate(f *Frame, x, y int) {
	r.marks = append(r.marks, [3]any{f, x, y})
}
func (r *recorder) Update() error             { return nil }
func (r *recorder) OnResolution(f *Frame)     { r.res = [2]int{-1, -1} }
func (r *recorder) MaxResolution() (int, int) { return 100, 100 }

func TestFramerBackLink(t *testing.T) {
	r := &recorder{}
	f := New(4, 2)
	if f.Framer() != nil {
		t.Fatal("fresh frame has a framer")
	}
	r.Add(f, -1)
	if f.Framer() != Framer(r) {
		t.Error("back-link not set by Add")
	}
	f.SetFramer(nil)
	if f.Framer() != nil {
		t.Error("back-link survives detach")
	}
}

func TestSetInvalidates(t *testing.T) {
	r := &recorder{}
	f := New(4, 2)
	r.Add(f, -1)
	r.marks = nil
	f.Set(3, 2, Cell{Glyph: "x"})
	if len(r.marks) != 1 {
		t.Fatalf("%d invalidations, want 1", len(r.marks))
	}
	if m := r.marks[0]; m[1] != 3 || m[2] != 2 {
		t.Errorf("invalidated (%v,%v), want (3,2)", m[1], m[2])
	}
}

func TestQuietResolutionSkipsFramer(t *testing.T) {
	r := &recorder{}
	f := New(4, 2)
	r.Add(f, -1)
	f.SetResolution(6, 3, true)
	if r.res != [2]int{} {
		t.Error("quiet resolution change notified the framer")
	}
	f.SetResolution(8, 3, false)
	if r.res == [2]int{} {
		t.Error("resolution change did not notify the framer")
	}
}

func newSimTerm(t *testing.T) (*AnsiTerm, tcell.SimulationScreen) {
	t.Helper()
	sim := tcell.NewSimulationScreen("UTF-8")
	a := NewAnsiTerm()
	a.newScreen = func() (tcell.Screen, error) { return sim, nil }
	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return a, sim
}

func TestAnsiTermFlush(t *testing.T) {
	a, sim := newSimTerm(t)
	f := New(5, 2)
	a.Add(f, -1)
	f.SetText(1, 1, "hi")
	if err := a.Update(); err != nil {
		t.Fatal(err)
	}

	cells, w, _ := sim.GetContents()
	if string(cells[0].Runes) != "h" || string(cells[1].Runes) != "i" {
		t.Errorf("screen row == %q%q, want hi", cells[0].Runes, cells[1].Runes)
	}
	_ = w
}

func TestAnsiTermFlushIdempotent(t *testing.T) {
	a, _ := newSimTerm(t)
	f := New(5, 2)
	a.Add(f, -1)
	f.SetText(1, 1, "hi")
	if err := a.Update(); err != nil {
		t.Fatal(err)
	}
	if len(a.dirty) != 0 {
		t.Fatalf("%d frames still dirty after flush", len(a.dirty))
	}
	// a second flush with no invalidation has nothing to write
	if err := a.Update(); err != nil {
		t.Fatal(err)
	}
	if len(a.dirty) != 0 {
		t.Error("flush with no writes dirtied the framer")
	}
}

func TestAnsiTermColors(t *testing.T) {
	a, sim := newSimTerm(t)
	f := New(3, 1)
	a.Add(f, -1)
	f.SetForeground(Color{RGB: 0xff0000})
	f.SetBackground(Color{RGB: 5, Paletted: true})
	f.SetText(1, 1, "x")
	if err := a.Update(); err != nil {
		t.Fatal(err)
	}
	cells, _, _ := sim.GetContents()
	fg, bg, _ := cells[0].Style.Decompose()
	if fg != tcell.NewHexColor(0xff0000) {
		t.Errorf("foreground %v, want red", fg)
	}
	wantBG, _ := f.PaletteColor(5)
	if bg != tcell.NewHexColor(int32(wantBG)) {
		t.Errorf("background %v, want palette slot 5 (%x)", bg, wantBG)
	}
}
