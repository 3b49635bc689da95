package frame

// Framer owns a set of attached frames in z-order (later entries draw
// on top) and flushes their cells to an output device. Cell writes
// arrive through Invalidate; Update pushes only the cells invalidated
// since the previous Update, so a flush with no intervening
// invalidation produces no output.
type Framer interface {
	// Open prepares the output device (for a terminal, raw-mode
	// state). Close restores it and is idempotent.
	Open() error
	Close()

	// Add attaches a frame at the given z-order index; -1 appends.
	// The frame's back-link is set to the framer.
	Add(f *Frame, index int) bool

	// Invalidate marks at minimum the cell at (x, y) of f dirty.
	Invalidate(f *Frame, x, y int)

	// Update flushes dirty cells to the device.
	Update() error

	// OnResolution is called after a non-quiet resolution change.
	OnResolution(f *Frame)

	// MaxResolution returns the largest resolution a frame may use.
	MaxResolution() (w, h int)
}

// Key is one keyboard event from the device behind a framer.
type Key struct {
	Ch   rune // printable character, 0 if none
	Code int  // device key code
	Name string
}

// Input is implemented by framers whose device produces keyboard
// events.
type Input interface {
	Keys() <-chan Key
}

// Beeper is implemented by framers whose device can sound a bell.
type Beeper interface {
	Beep(freq, duration float64)
}
