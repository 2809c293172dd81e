package sensors

import "context"

// Level is the logical state of a digital line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// DigitalInput is a single input line, e.g. a sensor interrupt output wired
// to a host or expander pin. Reads are non-blocking snapshots; edge detection
// and debouncing are left to the caller.
type DigitalInput interface {
	ReadLevel(ctx context.Context) (Level, error)
}
