package emu

import (
	"strings"
	"testing"

	"covm/value"
)

func testScreen(t *testing.T) *Screen {
	t.Helper()
	c, _ := newTestClient(t, "")
	return c.Components("screen", true)[0].(*Screen)
}

func TestScreenWriteScan(t *testing.T) {
	s := testScreen(t)
	if _, err := s.Invoke("setResolution", value.PackOf(10, 3)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Invoke("set", value.PackOf(1, 1, "Hello")); err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for _, cell := range s.Scan(1, 1, 5) {
		if cell.FG != s.Foreground() || cell.BG != s.Background() {
			t.Errorf("cell %q colors %+v", cell.Glyph, cell)
		}
		b.WriteString(cell.Glyph)
	}
	if b.String() != "Hello" {
		t.Errorf("scan == %q, want Hello", b.String())
	}
}

func TestScreenResolution(t *testing.T) {
	s := testScreen(t)
	res, err := s.Invoke("setResolution", value.PackOf(10, 3))
	if err != nil || !res.At(0).Bool() {
		t.Fatalf("setResolution == %v, %v", res, err)
	}
	res, err = s.Invoke("getResolution", nil)
	if err != nil || res.At(0).Int() != 10 || res.At(1).Int() != 3 {
		t.Errorf("getResolution == %v, %v", res, err)
	}
	// resizing announces itself to the guest
	found := false
	for cmp := s.client.Computer(); cmp.SignalCount() > 0; {
		sig, _ := cmp.Invoke("pullSignal", nil)
		if sig.At(0).Str() == "screen_resized" && sig.At(2).Int() == 10 {
			found = true
			break
		}
	}
	if !found {
		t.Error("no screen_resized signal queued")
	}

	if _, err := s.Invoke("setResolution", value.PackOf(0, 3)); err == nil {
		t.Error("zero width accepted")
	}
	maxW, maxH := s.host.Framer().MaxResolution()
	if _, err := s.Invoke("setResolution", value.PackOf(maxW+1, maxH)); err == nil {
		t.Error("resolution beyond the framer maximum accepted")
	}
	res, err = s.Invoke("maxResolution", nil)
	if err != nil || res.At(0).Int() != int64(maxW) || res.At(1).Int() != int64(maxH) {
		t.Errorf("maxResolution == %v, %v", res, err)
	}
}

func TestScreenPalette(t *testing.T) {
	s := testScreen(t)
	res, err := s.Invoke("setPaletteColor", value.PackOf(2, 0x336699))
	if err != nil {
		t.Fatal(err)
	}
	old := res.At(0).Int()
	res, err = s.Invoke("getPaletteColor", value.PackOf(2))
	if err != nil || res.At(0).Int() != 0x336699 {
		t.Errorf("getPaletteColor == %v, %v", res, err)
	}
	if old == 0x336699 {
		t.Error("setPaletteColor did not report the previous value")
	}
	if _, err := s.Invoke("getPaletteColor", value.PackOf(99)); err == nil {
		t.Error("out of range palette index accepted")
	}
}

func TestScreenColors(t *testing.T) {
	s := testScreen(t)
	if _, err := s.Invoke("setForeground", value.PackOf(0xff0000)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Invoke("setBackground", value.PackOf(3, true)); err != nil {
		t.Fatal(err)
	}
	s.Invoke("set", value.PackOf(1, 1, "x"))
	cell := s.Get(1, 1)
	if cell.FG.RGB != 0xff0000 || cell.FG.Paletted {
		t.Errorf("foreground %+v", cell.FG)
	}
	if cell.BG.RGB != 3 || !cell.BG.Paletted {
		t.Errorf("background %+v", cell.BG)
	}
	if _, err := s.Invoke("setBackground", value.PackOf(99, true)); err == nil {
		t.Error("palette index out of range accepted")
	}
}

func TestScreenFillCopy(t *testing.T) {
	s := testScreen(t)
	s.Invoke("setResolution", value.PackOf(10, 4))
	if _, err := s.Invoke("fill", value.PackOf(1, 1, 3, 2, "#")); err != nil {
		t.Fatal(err)
	}
	for y := 1; y <= 2; y++ {
		for x := 1; x <= 3; x++ {
			if g := s.Get(x, y).Glyph; g != "#" {
				t.Fatalf("cell (%d,%d) == %q, want #", x, y, g)
			}
		}
	}
	if _, err := s.Invoke("copy", value.PackOf(1, 1, 3, 2, 4, 2)); err != nil {
		t.Fatal(err)
	}
	for y := 3; y <= 4; y++ {
		for x := 5; x <= 7; x++ {
			if g := s.Get(x, y).Glyph; g != "#" {
				t.Errorf("copied cell (%d,%d) == %q, want #", x, y, g)
			}
		}
	}
}

func TestScreenGet(t *testing.T) {
	s := testScreen(t)
	s.Invoke("set", value.PackOf(2, 2, "Q"))
	res, err := s.Invoke("get", value.PackOf(2, 2))
	if err != nil || res.At(0).Str() != "Q" {
		t.Errorf("get == %v, %v", res, err)
	}
}

func TestScreenPower(t *testing.T) {
	s := testScreen(t)
	res, _ := s.Invoke("isOn", nil)
	if !res.At(0).Bool() {
		t.Fatal("screen starts off")
	}
	res, _ = s.Invoke("turnOff", nil)
	if !res.At(0).Bool() {
		t.Error("turnOff reported no change")
	}
	res, _ = s.Invoke("turnOff", nil)
	if res.At(0).Bool() {
		t.Error("second turnOff reported a change")
	}
	res, _ = s.Invoke("turnOn", nil)
	if !res.At(0).Bool() {
		t.Error("turnOn reported no change")
	}
}

func TestScreenKeyboards(t *testing.T) {
	c, _ := newTestClient(t, "")
	s := c.Components("screen", true)[0].(*Screen)
	res, err := s.Invoke("getKeyboards", nil)
	if err != nil {
		t.Fatal(err)
	}
	tab := res.At(0).Table()
	if tab.Len() != 1 {
		t.Fatalf("%d keyboards, want 1", tab.Len())
	}
	addr := tab.GetIndex(1).Str()
	if pc := c.Component(addr); pc == nil || pc.Type() != "keyboard" {
		t.Errorf("keyboard address %s does not resolve", addr)
	}
}
