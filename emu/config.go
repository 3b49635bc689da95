package emu

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"covm/value"
)

// Config is a named keyed store over Values, persisted as one TOML
// document at <env>/<name>.cfg.
type Config struct {
	path string
	name string
	data value.Value
}

func NewConfig(path, name string) *Config {
	return &Config{path: path, name: name, data: value.NewTable()}
}

func (c *Config) Name() string { return c.name }

func (c *Config) savePath() string {
	return filepath.Join(c.path, c.name+".cfg")
}

// Exists reports whether the store has been persisted before.
func (c *Config) Exists() bool {
	_, err := os.Stat(c.savePath())
	return err == nil
}

// Load reads the persisted document into the store.
func (c *Config) Load() error {
	var raw map[string]any
	if _, err := toml.DecodeFile(c.savePath(), &raw); err != nil {
		return fmt.Errorf("loading %s: %w", c.savePath(), err)
	}
	c.data = value.FromInterface(raw)
	return nil
}

// Save writes the store back to disk.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.path, 0o755); err != nil {
		return err
	}
	f, err := os.Create(c.savePath())
	if err != nil {
		return fmt.Errorf("saving %s: %w", c.savePath(), err)
	}
	defer f.Close()
	raw, ok := normalize(c.data.Interface()).(map[string]any)
	if !ok {
		raw = map[string]any{}
	}
	if err := toml.NewEncoder(f).Encode(raw); err != nil {
		return fmt.Errorf("saving %s: %w", c.savePath(), err)
	}
	return nil
}

// normalize rewrites lists of tables as []map so the TOML encoder
// emits them as [[section]] entries.
func normalize(x any) any {
	switch x := x.(type) {
	case []any:
		maps := make([]map[string]any, 0, len(x))
		for _, e := range x {
			if m, ok := normalize(e).(map[string]any); ok {
				maps = append(maps, m)
			}
		}
		if len(maps) == len(x) && len(x) > 0 {
			return maps
		}
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case map[string]any:
		for k, v := range x {
			x[k] = normalize(v)
		}
		return x
	}
	return x
}

// Get returns the value stored under key, or nil.
func (c *Config) Get(key string) value.Value {
	return c.data.Table().GetString(key)
}

// Set stores v under key. Storing nil removes the key.
func (c *Config) Set(key string, v value.Value) {
	c.data.Table().SetString(key, v)
}

// Keys returns the top-level keys in store order.
func (c *Config) Keys() []string {
	keys := c.data.Table().Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}
