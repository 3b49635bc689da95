// Package frame implements the cell grid that backs emulated screens
// and the framers that flush it to a display.
package frame

import "github.com/rivo/uniseg"

// Color is a cell color: either a literal 24-bit RGB value or, when
// Paletted is set, an index into the backend palette.
type Color struct {
	RGB      int
	Paletted bool
}

// Cell is one character position. Glyph is a single grapheme cluster
// and may be multibyte.
type Cell struct {
	Glyph string
	FG    Color
	BG    Color
}

// Empty is the sentinel returned for reads outside the current
// resolution.
var Empty = Cell{Glyph: " ", FG: Color{RGB: 0xffffff}, BG: Color{RGB: 0x000000}}

// PaletteSize is the number of backend palette slots a frame carries.
const PaletteSize = 16

// defaultPalette holds the grey ramp frames start with.
var defaultPalette = [PaletteSize]int{
	0x0f0f0f, 0x1e1e1e, 0x2d2d2d, 0x3c3c3c,
	0x4b4b4b, 0x5a5a5a, 0x696969, 0x787878,
	0x878787, 0x969696, 0xa5a5a5, 0xb4b4b4,
	0xc3c3c3, 0xd2d2d2, 0xe1e1e1, 0xf0f0f0,
}

// Frame is a rectangular cell buffer with current color state.
// Coordinates are 1-based, matching what the guest sees. A Frame is
// attached to at most one Framer, which is notified of every cell
// write.
type Frame struct {
	framer Framer

	width  int
	height int

	scrolling bool

	cells   []Cell
	fg, bg  Color
	palette [PaletteSize]int
}

// New returns a Frame with the given resolution.
func New(width, height int) *Frame {
	f := &Frame{
		fg:      Color{RGB: 0xffffff},
		bg:      Color{RGB: 0x000000},
		palette: defaultPalette,
	}
	f.resizeBuffer(width, height)
	return f
}

// SetFramer records the owning framer. It is called by Framer.Add and
// by detachment; frames never outlive their framer.
func (f *Frame) SetFramer(fr Framer) { f.framer = fr }

// Framer returns the framer the frame is attached to, or nil.
func (f *Frame) Framer() Framer { return f.framer }

func (f *Frame) Foreground() Color     { return f.fg }
func (f *Frame) SetForeground(c Color) { f.fg = c }
func (f *Frame) Background() Color     { return f.bg }
func (f *Frame) SetBackground(c Color) { f.bg = c }

// Scrolling reports whether writes past the last row scroll the frame.
func (f *Frame) Scrolling() bool        { return f.scrolling }
func (f *Frame) SetScrolling(on bool)   { f.scrolling = on }
func (f *Frame) Resolution() (w, h int) { return f.width, f.height }

// PaletteColor returns the RGB value stored in palette slot i.
func (f *Frame) PaletteColor(i int) (int, bool) {
	if i < 0 || i >= PaletteSize {
		return 0, false
	}
	return f.palette[i], true
}

// SetPaletteColor stores rgb in palette slot i and repaints.
func (f *Frame) SetPaletteColor(i, rgb int) bool {
	if i < 0 || i >= PaletteSize {
		return false
	}
	f.palette[i] = rgb & 0xffffff
	f.invalidateAll()
	return true
}

// Get returns the cell at (x, y), or Empty if out of bounds.
func (f *Frame) Get(x, y int) Cell {
	if x < 1 || y < 1 || x > f.width || y > f.height {
		return Empty
	}
	return f.cells[(y-1)*f.width+(x-1)]
}

// Set writes one cell. Writes outside the resolution are dropped,
// except that a scrolling frame written past the last row scrolls up
// first.
func (f *Frame) Set(x, y int, c Cell) {
	if f.scrolling && y > f.height && x >= 1 && x <= f.width {
		f.Scroll()
		y = f.height
	}
	if x < 1 || y < 1 || x > f.width || y > f.height {
		return
	}
	f.cells[(y-1)*f.width+(x-1)] = c
	if f.framer != nil {
		f.framer.Invalidate(f, x, y)
	}
}

// SetText writes one cell per grapheme cluster of text starting at
// (x, y), using the current foreground and background. Writes past
// the right edge clip, unless the frame is scrolling and the write is
// on the last row, in which case the frame scrolls up one row and the
// remainder continues at column 1 of the new bottom row.
func (f *Frame) SetText(x, y int, text string) {
	if f.scrolling && y > f.height {
		f.Scroll()
		y = f.height
	}
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		if x > f.width {
			if !f.scrolling || y != f.height {
				return
			}
			f.Scroll()
			x = 1
		}
		f.Set(x, y, Cell{Glyph: g.Str(), FG: f.fg, BG: f.bg})
		x++
	}
}

// SetCells writes previously scanned cells starting at (x, y),
// preserving their colors.
func (f *Frame) SetCells(x, y int, cells []Cell) {
	for i, c := range cells {
		f.Set(x+i, y, c)
	}
}

// Scan returns width cells starting at (x, y). Positions outside the
// frame read as Empty.
func (f *Frame) Scan(x, y, width int) []Cell {
	cells := make([]Cell, 0, width)
	for i := 0; i < width; i++ {
		cells = append(cells, f.Get(x+i, y))
	}
	return cells
}

// Scroll shifts all rows up by one and clears the bottom row to the
// current background.
func (f *Frame) Scroll() {
	copy(f.cells, f.cells[f.width:])
	blank := Cell{Glyph: " ", FG: f.fg, BG: f.bg}
	for i := len(f.cells) - f.width; i < len(f.cells); i++ {
		f.cells[i] = blank
	}
	f.invalidateAll()
}

// SetResolution reallocates the buffer to width x height, preserving
// the overlapping region. Unless quiet is set, the framer is notified
// through OnResolution. It reports whether the resolution changed.
func (f *Frame) SetResolution(width, height int, quiet bool) bool {
	if width < 1 || height < 1 {
		return false
	}
	if width == f.width && height == f.height {
		return false
	}
	f.resizeBuffer(width, height)
	if !quiet && f.framer != nil {
		f.framer.OnResolution(f)
	}
	return true
}

// WriteLine scrolls the frame and writes text on the bottom row. It
// is the append-style entry point used by the log tee.
func (f *Frame) WriteLine(text string) {
	f.Scroll()
	f.SetText(1, f.height, text)
}

func (f *Frame) resizeBuffer(width, height int) {
	cells := make([]Cell, width*height)
	blank := Cell{Glyph: " ", FG: f.fg, BG: f.bg}
	for i := range cells {
		cells[i] = blank
	}
	for y := 1; y <= height && y <= f.height; y++ {
		for x := 1; x <= width && x <= f.width; x++ {
			cells[(y-1)*width+(x-1)] = f.cells[(y-1)*f.width+(x-1)]
		}
	}
	f.width, f.height, f.cells = width, height, cells
}

func (f *Frame) invalidateAll() {
	if f.framer == nil {
		return
	}
	for y := 1; y <= f.height; y++ {
		for x := 1; x <= f.width; x++ {
			f.framer.Invalidate(f, x, y)
		}
	}
}
