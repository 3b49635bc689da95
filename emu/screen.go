package emu

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"covm/frame"
	"covm/value"
)

// flushFailLimit is how many consecutive framer flush failures are
// tolerated before the tick escalates to Halt.
const flushFailLimit = 3

// Screen is both a component and a frame: guest writes mutate the
// cell grid, and the framer flushes the deltas at the end of the
// tick.
type Screen struct {
	base
	*frame.Frame
	host *Host

	keyboards []string
	on        bool
	fails     int
}

func newScreen(h *Host) *Screen {
	s := &Screen{
		base: newBase("screen"),
		host: h,
		on:   true,
	}
	s.info = DeviceInfo{
		Class:       "display",
		Description: "Text buffer",
		Vendor:      "covm",
		Product:     "CellMatrix",
	}
	s.add("getKeyboards", "getKeyboards():table -- the keyboards attached to this screen", s.apiGetKeyboards)
	s.add("setResolution", "setResolution(width:number, height:number):boolean -- set the buffer resolution", s.apiSetResolution)
	s.add("getResolution", "getResolution():number, number -- the current resolution", s.apiGetResolution)
	s.add("maxResolution", "maxResolution():number, number -- the largest supported resolution", s.apiMaxResolution)
	s.add("setPaletteColor", "setPaletteColor(index:number, value:number):number -- write a palette slot", s.apiSetPaletteColor)
	s.add("getPaletteColor", "getPaletteColor(index:number):number -- read a palette slot", s.apiGetPaletteColor)
	s.add("isOn", "isOn():boolean -- whether the screen is on", s.apiIsOn)
	s.add("turnOn", "turnOn():boolean -- turn the screen on", s.apiTurnOn)
	s.add("turnOff", "turnOff():boolean -- turn the screen off", s.apiTurnOff)
	s.add("setForeground", "setForeground(value:number[, palette:boolean]) -- set the foreground color", s.apiSetForeground)
	s.add("setBackground", "setBackground(value:number[, palette:boolean]) -- set the background color", s.apiSetBackground)
	s.add("set", "set(x:number, y:number, value:string):boolean -- write text", s.apiSet)
	s.add("get", "get(x:number, y:number):string, number, number -- read one cell", s.apiGet)
	s.add("fill", "fill(x:number, y:number, width:number, height:number, char:string):boolean -- fill a region", s.apiFill)
	s.add("copy", "copy(x:number, y:number, width:number, height:number, tx:number, ty:number):boolean -- copy a region, offset by (tx, ty)", s.apiCopy)
	return s
}

func (s *Screen) Initialize(c *Client, cfg value.Value) error {
	if err := s.initialize(c, cfg); err != nil {
		return err
	}
	t := cfg.Table()
	w, h := 80, 25
	if v := t.GetString("width"); !v.IsNil() {
		w = int(v.Int())
	}
	if v := t.GetString("height"); !v.IsNil() {
		h = int(v.Int())
	}
	maxW, maxH := s.host.Framer().MaxResolution()
	if w > maxW {
		w = maxW
	}
	if h > maxH {
		h = maxH
	}
	s.Frame = frame.New(w, h)
	if !s.host.Framer().Add(s.Frame, -1) {
		return errors.New("frame already attached")
	}
	return nil
}

// AddKeyboard attaches a keyboard address; keyboards announce
// themselves during post-initialization.
func (s *Screen) AddKeyboard(addr string) {
	s.keyboards = append(s.keyboards, addr)
}

// Update flushes the framer. Flush failures are retried next tick;
// repeated failure escalates.
func (s *Screen) Update() RunState {
	if err := s.host.Framer().Update(); err != nil {
		s.fails++
		s.client.Log().Error("framer flush failed", "error", err, "consecutive", s.fails)
		if s.fails >= flushFailLimit {
			return Halt
		}
		return Continue
	}
	s.fails = 0
	return Continue
}

func (s *Screen) apiGetKeyboards(value.Pack) (value.Pack, error) {
	t := value.NewTable()
	for _, addr := range s.keyboards {
		t.Table().Append(value.String(addr))
	}
	return value.Pack{t}, nil
}

func (s *Screen) apiSetResolution(args value.Pack) (value.Pack, error) {
	w, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	h, err := value.Arg[int64](args, 1)
	if err != nil {
		return nil, err
	}
	width, werr := safecast.Conv[int](w)
	height, herr := safecast.Conv[int](h)
	if werr != nil || herr != nil {
		return nil, errors.New("unsupported resolution")
	}
	maxW, maxH := s.host.Framer().MaxResolution()
	if width < 1 || height < 1 || width > maxW || height > maxH {
		return nil, fmt.Errorf("unsupported resolution (max %dx%d)", maxW, maxH)
	}
	changed := s.SetResolution(width, height, false)
	if changed {
		s.client.PushSignal(value.PackOf("screen_resized", s.address, width, height))
	}
	return value.PackOf(changed), nil
}

func (s *Screen) apiGetResolution(value.Pack) (value.Pack, error) {
	w, h := s.Resolution()
	return value.PackOf(w, h), nil
}

func (s *Screen) apiMaxResolution(value.Pack) (value.Pack, error) {
	w, h := s.host.Framer().MaxResolution()
	return value.PackOf(w, h), nil
}

func (s *Screen) apiSetPaletteColor(args value.Pack) (value.Pack, error) {
	index, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	rgb, err := value.Arg[int64](args, 1)
	if err != nil {
		return nil, err
	}
	old, ok := s.PaletteColor(int(index))
	if !ok || !s.SetPaletteColor(int(index), int(rgb)) {
		return nil, fmt.Errorf("invalid palette index %d", index)
	}
	return value.PackOf(old), nil
}

func (s *Screen) apiGetPaletteColor(args value.Pack) (value.Pack, error) {
	index, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	rgb, ok := s.PaletteColor(int(index))
	if !ok {
		return nil, fmt.Errorf("invalid palette index %d", index)
	}
	return value.PackOf(rgb), nil
}

func (s *Screen) apiIsOn(value.Pack) (value.Pack, error) {
	return value.PackOf(s.on), nil
}

func (s *Screen) apiTurnOn(value.Pack) (value.Pack, error) {
	changed := !s.on
	s.on = true
	return value.PackOf(changed), nil
}

func (s *Screen) apiTurnOff(value.Pack) (value.Pack, error) {
	changed := s.on
	s.on = false
	return value.PackOf(changed), nil
}

func (s *Screen) apiSetForeground(args value.Pack) (value.Pack, error) {
	return s.setColor(args, s.Foreground(), s.SetForeground)
}

func (s *Screen) apiSetBackground(args value.Pack) (value.Pack, error) {
	return s.setColor(args, s.Background(), s.SetBackground)
}

func (s *Screen) setColor(args value.Pack, old frame.Color, set func(frame.Color)) (value.Pack, error) {
	rgb, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	paletted, err := value.OptArg[bool](args, 1, false)
	if err != nil {
		return nil, err
	}
	if paletted {
		if _, ok := s.PaletteColor(int(rgb)); !ok {
			return nil, fmt.Errorf("invalid palette index %d", rgb)
		}
	}
	set(frame.Color{RGB: int(rgb), Paletted: paletted})
	return value.PackOf(int64(old.RGB), old.Paletted), nil
}

func (s *Screen) apiSet(args value.Pack) (value.Pack, error) {
	x, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	y, err := value.Arg[int64](args, 1)
	if err != nil {
		return nil, err
	}
	text, err := value.Arg[string](args, 2)
	if err != nil {
		return nil, err
	}
	s.SetText(int(x), int(y), text)
	return value.PackOf(true), nil
}

func (s *Screen) apiGet(args value.Pack) (value.Pack, error) {
	x, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	y, err := value.Arg[int64](args, 1)
	if err != nil {
		return nil, err
	}
	cell := s.Get(int(x), int(y))
	return value.PackOf(cell.Glyph, cell.FG.RGB, cell.BG.RGB), nil
}

func (s *Screen) apiFill(args value.Pack) (value.Pack, error) {
	x, err := value.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	y, err := value.Arg[int64](args, 1)
	if err != nil {
		return nil, err
	}
	w, err := value.Arg[int64](args, 2)
	if err != nil {
		return nil, err
	}
	h, err := value.Arg[int64](args, 3)
	if err != nil {
		return nil, err
	}
	char, err := value.OptArg[string](args, 4, " ")
	if err != nil {
		return nil, err
	}
	cell := frame.Cell{Glyph: char, FG: s.Foreground(), BG: s.Background()}
	for dy := int64(0); dy < h; dy++ {
		for dx := int64(0); dx < w; dx++ {
			s.Set(int(x+dx), int(y+dy), cell)
		}
	}
	return value.PackOf(true), nil
}

func (s *Screen) apiCopy(args value.Pack) (value.Pack, error) {
	coords := make([]int, 6)
	for i := range coords {
		v, err := value.Arg[int64](args, i)
		if err != nil {
			return nil, err
		}
		coords[i] = int(v)
	}
	x, y, w, h, tx, ty := coords[0], coords[1], coords[2], coords[3], coords[4], coords[5]
	rows := make([][]frame.Cell, h)
	for dy := 0; dy < h; dy++ {
		rows[dy] = s.Scan(x, y+dy, w)
	}
	for dy := 0; dy < h; dy++ {
		s.SetCells(x+tx, y+dy+ty, rows[dy])
	}
	return value.PackOf(true), nil
}
