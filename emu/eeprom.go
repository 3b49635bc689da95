package emu

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"covm/value"
)

const (
	defaultBiosLimit = 4 * 1024
	defaultDataLimit = 256
)

var errNotEnoughSpace = errors.New("not enough space")

// Eeprom holds the machine's bios blob and a small non-executable
// data scratch area, both size-limited and persisted under the
// environment directory.
type Eeprom struct {
	base
	host *Host

	bios []byte
	data []byte

	label string

	biosLimit int
	dataLimit int
}

func newEeprom(h *Host) *Eeprom {
	e := &Eeprom{
		base: newBase("eeprom"),
		host: h,
	}
	e.info = DeviceInfo{
		Class:       "memory",
		Description: "EEPROM",
		Vendor:      "covm",
		Product:     "FlashStick",
	}
	e.add("get", "get():string -- the stored bios", e.apiGet)
	e.add("set", "set(data:string) -- overwrite the bios", e.apiSet)
	e.add("getData", "getData():string -- the stored data blob", e.apiGetData)
	e.add("setData", "setData(data:string) -- overwrite the data blob", e.apiSetData)
	e.add("getLabel", "getLabel():string -- the label", e.apiGetLabel)
	e.add("setLabel", "setLabel(value:string):string -- set the label", e.apiSetLabel)
	e.add("getSize", "getSize():number -- bios capacity in bytes", e.apiGetSize)
	e.add("getDataSize", "getDataSize():number -- data capacity in bytes", e.apiGetDataSize)
	return e
}

func (e *Eeprom) Initialize(c *Client, cfg value.Value) error {
	if err := e.initialize(c, cfg); err != nil {
		return err
	}
	t := cfg.Table()
	e.biosLimit = defaultBiosLimit
	if v := t.GetString("size"); !v.IsNil() {
		e.biosLimit = int(v.Int())
	}
	e.dataLimit = defaultDataLimit
	if v := t.GetString("dataSize"); !v.IsNil() {
		e.dataLimit = int(v.Int())
	}
	e.label = "EEPROM"
	if v := t.GetString("label"); v.Kind() == value.KindString {
		e.label = v.Str()
	}

	bios, err := os.ReadFile(e.biosPath())
	switch {
	case err == nil:
		e.bios = bios
	case os.IsNotExist(err):
		// no persisted blob yet, seed from the original bios
		if v := t.GetString("originalBiosPath"); v.Kind() == value.KindString {
			seed, err := os.ReadFile(v.Str())
			if err != nil {
				return fmt.Errorf("seeding bios: %w", err)
			}
			if len(seed) > e.biosLimit {
				return fmt.Errorf("bios %s exceeds the %d byte limit", v.Str(), e.biosLimit)
			}
			e.bios = seed
		}
	default:
		return err
	}

	data, err := os.ReadFile(e.dataPath())
	if err == nil {
		e.data = data
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (e *Eeprom) Close() {
	e.persist()
}

func (e *Eeprom) biosPath() string {
	return filepath.Join(e.client.EnvPath(), "eeprom.bin")
}

func (e *Eeprom) dataPath() string {
	return filepath.Join(e.client.EnvPath(), "eeprom.data")
}

func (e *Eeprom) persist() {
	if err := os.WriteFile(e.biosPath(), e.bios, 0o644); err != nil {
		e.client.Log().Error("persisting eeprom bios", "error", err)
	}
	if err := os.WriteFile(e.dataPath(), e.data, 0o644); err != nil {
		e.client.Log().Error("persisting eeprom data", "error", err)
	}
}

func (e *Eeprom) apiGet(value.Pack) (value.Pack, error) {
	return value.PackOf(string(e.bios)), nil
}

func (e *Eeprom) apiSet(args value.Pack) (value.Pack, error) {
	bios, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if len(bios) > e.biosLimit {
		return nil, errNotEnoughSpace
	}
	e.bios = []byte(bios)
	e.persist()
	return nil, nil
}

func (e *Eeprom) apiGetData(value.Pack) (value.Pack, error) {
	return value.PackOf(string(e.data)), nil
}

func (e *Eeprom) apiSetData(args value.Pack) (value.Pack, error) {
	data, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if len(data) > e.dataLimit {
		return nil, errNotEnoughSpace
	}
	e.data = []byte(data)
	e.persist()
	return nil, nil
}

func (e *Eeprom) apiGetLabel(value.Pack) (value.Pack, error) {
	return value.PackOf(e.label), nil
}

func (e *Eeprom) apiSetLabel(args value.Pack) (value.Pack, error) {
	label, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if len(label) > 24 {
		label = label[:24]
	}
	e.label = label
	return value.PackOf(e.label), nil
}

func (e *Eeprom) apiGetSize(value.Pack) (value.Pack, error) {
	return value.PackOf(e.biosLimit), nil
}

func (e *Eeprom) apiGetDataSize(value.Pack) (value.Pack, error) {
	return value.PackOf(e.dataLimit), nil
}
