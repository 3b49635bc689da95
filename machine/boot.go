package machine

import _ "embed"

// DefaultSource is the machine driver used when the configuration
// names no machine script: it executes the EEPROM bios and then pumps
// the signal queue.
//
//go:embed boot.star
var DefaultSource []byte

// DefaultName is the backtrace name of the embedded driver.
const DefaultName = "=boot.star"
