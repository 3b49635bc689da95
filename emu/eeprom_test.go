package emu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"covm/logs"
	"covm/value"
)

func TestEepromOverflowRetainsBios(t *testing.T) {
	c, _ := newTestClient(t, "")
	e := c.Components("eeprom", true)[0]

	if _, err := e.Invoke("set", value.PackOf("boot code")); err != nil {
		t.Fatal(err)
	}
	_, err := e.Invoke("set", value.PackOf(strings.Repeat("x", defaultBiosLimit+1)))
	if err == nil || err.Error() != "not enough space" {
		t.Fatalf("oversized set == %v, want not enough space", err)
	}
	res, err := e.Invoke("get", nil)
	if err != nil || res.At(0).Str() != "boot code" {
		t.Errorf("bios after failed set == %v, %v, want boot code", res, err)
	}

	if _, err := e.Invoke("set", value.PackOf(strings.Repeat("x", defaultBiosLimit))); err != nil {
		t.Errorf("set at the exact limit failed: %v", err)
	}
}

func TestEepromDataLimit(t *testing.T) {
	c, _ := newTestClient(t, "")
	e := c.Components("eeprom", true)[0]

	_, err := e.Invoke("setData", value.PackOf(strings.Repeat("d", defaultDataLimit+1)))
	if err == nil || err.Error() != "not enough space" {
		t.Errorf("oversized setData == %v, want not enough space", err)
	}
	if _, err := e.Invoke("setData", value.PackOf("scratch")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Invoke("getData", nil)
	if err != nil || res.At(0).Str() != "scratch" {
		t.Errorf("getData == %v, %v", res, err)
	}
}

func TestEepromPersistence(t *testing.T) {
	env := t.TempDir()

	c := New(NewHost(&testFramer{}), env, logs.Discard())
	if !c.Load() {
		t.Fatal("load failed")
	}
	e := c.Components("eeprom", true)[0]
	if _, err := e.Invoke("set", value.PackOf("persisted bios")); err != nil {
		t.Fatal(err)
	}
	c.Close()

	if _, err := os.Stat(filepath.Join(env, "eeprom.bin")); err != nil {
		t.Fatalf("bios blob not on disk: %v", err)
	}

	c = New(NewHost(&testFramer{}), env, logs.Discard())
	if !c.Load() {
		t.Fatal("reload failed")
	}
	defer c.Close()
	e = c.Components("eeprom", true)[0]
	res, err := e.Invoke("get", nil)
	if err != nil || res.At(0).Str() != "persisted bios" {
		t.Errorf("bios after reload == %v, %v", res, err)
	}
}

func TestEepromSeedsFromOriginalBios(t *testing.T) {
	env := t.TempDir()
	seed := filepath.Join(env, "seed.star")
	if err := os.WriteFile(seed, []byte("seed code"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, env, `
[[components]]
key = "computer"

[[components]]
key = "eeprom"
originalBiosPath = `+strconv.Quote(seed)+`
`)
	c := New(NewHost(&testFramer{}), env, logs.Discard())
	if !c.Load() {
		t.Fatal("load failed")
	}
	e := c.Components("eeprom", true)[0]
	res, err := e.Invoke("get", nil)
	if err != nil || res.At(0).Str() != "seed code" {
		t.Errorf("seeded bios == %v, %v", res, err)
	}

	// a persisted blob wins over the seed on later runs
	if _, err := e.Invoke("set", value.PackOf("installed")); err != nil {
		t.Fatal(err)
	}
	c.Close()
	c = New(NewHost(&testFramer{}), env, logs.Discard())
	if !c.Load() {
		t.Fatal("reload failed")
	}
	defer c.Close()
	e = c.Components("eeprom", true)[0]
	res, err = e.Invoke("get", nil)
	if err != nil || res.At(0).Str() != "installed" {
		t.Errorf("bios after reload == %v, %v, want installed", res, err)
	}
}

func TestEepromLabel(t *testing.T) {
	c, _ := newTestClient(t, "")
	e := c.Components("eeprom", true)[0]

	res, err := e.Invoke("setLabel", value.PackOf("A very long label that exceeds the cap"))
	if err != nil {
		t.Fatal(err)
	}
	if g := res.At(0).Str(); len(g) != 24 {
		t.Errorf("label length %d, want 24", len(g))
	}
	res, _ = e.Invoke("getSize", nil)
	if res.At(0).Int() != defaultBiosLimit {
		t.Errorf("getSize == %v", res)
	}
	res, _ = e.Invoke("getDataSize", nil)
	if res.At(0).Int() != defaultDataLimit {
		t.Errorf("getDataSize == %v", res)
	}
}
