package main

import (
	"path/filepath"
	"time"

	"github.com/howeyc/fsnotify"
)

// watchMachine watches the machine script and the persisted bios for
// changes and reports the changed file name, debounced, so the caller
// can reboot the machine. stop tears the watcher down.
func watchMachine(envPath, machinePath string) (<-chan string, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	dirs := map[string]bool{filepath.Clean(envPath): true}
	if machinePath != "" {
		dirs[filepath.Dir(filepath.Clean(machinePath))] = true
	}
	for dir := range dirs {
		if err := watcher.Watch(dir); err != nil {
			watcher.Close()
			return nil, nil, err
		}
	}

	interesting := map[string]bool{
		filepath.Join(filepath.Clean(envPath), "eeprom.bin"): true,
	}
	if machinePath != "" {
		interesting[filepath.Clean(machinePath)] = true
	}

	ch := make(chan string, 1)
	go func() {
		var (
			pending string
			fire    <-chan time.Time
		)
		for {
			select {
			case ev, ok := <-watcher.Event:
				if !ok {
					return
				}
				if interesting[filepath.Clean(ev.Name)] && !ev.IsAttrib() {
					pending = ev.Name
					fire = time.After(100 * time.Millisecond)
				}
			case err := <-watcher.Error:
				if err == nil {
					return
				}
			case <-fire:
				fire = nil
				select {
				case ch <- pending:
				default:
				}
			}
		}
	}()
	return ch, func() { watcher.Close() }, nil
}
