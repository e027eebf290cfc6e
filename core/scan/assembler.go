package scan

import (
	"strings"
	"sync"
	"time"

	"github.com/maktabahq/maktaba/core"
)

var nowFunc = time.Now // mockable

// Terminal keys sent by keyboard-wedge scanners after the code payload.
const (
	KeyEnter = "Enter"
	KeyTab   = "Tab"
)

// Assembler turns a raw keypress stream from a HID scanner into discrete
// codes while coexisting with normal typing on the same surface. It is
// explicitly started and stopped so that only the active scan target
// consumes keys; callbacks fire synchronously from the event path, never
// across the idle-timer boundary as a panic.
type Assembler struct {
	cfg     core.ScannerConfig
	onCode  func(Code)
	onError func(error)

	mu       sync.Mutex
	buf      strings.Builder
	scanning bool
	started  bool
	lastKey  time.Time
	timer    *time.Timer
}

func NewAssembler(cfg core.ScannerConfig, onCode func(Code), onError func(error)) *Assembler {
	if cfg.InterKeyTimeout <= 0 {
		cfg.InterKeyTimeout = 100 * time.Millisecond
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Assembler{
		cfg:     cfg,
		onCode:  onCode,
		onError: onError,
	}
}

// Start attaches the assembler to its scan target.
func (a *Assembler) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
}

// Stop detaches the assembler, discarding any partial buffer.
func (a *Assembler) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	a.reset()
}

// Scanning reports whether a code is currently being accumulated.
func (a *Assembler) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// Key feeds one keypress. It reports whether the key was consumed by the
// assembler; unconsumed keys belong to normal typing and pass through
// untouched.
func (a *Assembler) Key(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || !a.cfg.Enabled {
		return false
	}

	switch {
	case key == KeyEnter || key == KeyTab:
		if !a.scanning {
			return false
		}
		a.finalizeOrDiscard()
		return true

	case len(key) > 1:
		// non-terminal special keys (Shift, ArrowLeft, ...) are never
		// part of a code payload, but they still count as scanner
		// activity and keep the idle timer armed
		if a.scanning {
			a.lastKey = nowFunc()
			a.resetTimer()
			return true
		}
		return false

	default:
		a.buf.WriteString(key)
		a.scanning = true
		a.lastKey = nowFunc()
		a.resetTimer()
		return true
	}
}

// resetTimer (re)arms the idle timer. Callers must hold a.mu.
func (a *Assembler) resetTimer() {
	if a.timer == nil {
		a.timer = time.AfterFunc(a.cfg.InterKeyTimeout, a.idleTimeout)
		return
	}
	a.timer.Reset(a.cfg.InterKeyTimeout)
}

func (a *Assembler) idleTimeout() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.scanning {
		return
	}
	// a key may have slipped in while this callback waited on the lock
	if nowFunc().Sub(a.lastKey) < a.cfg.InterKeyTimeout {
		a.resetTimer()
		return
	}
	a.finalizeOrDiscard()
}

// finalizeOrDiscard applies the terminal-key/idle-expiry rule: buffers
// shorter than MinLength are quietly dropped (assumed to be stray typing),
// anything longer goes through strict finalization. Callers must hold a.mu.
func (a *Assembler) finalizeOrDiscard() {
	raw := a.buf.String()
	a.reset()

	if len(raw) < a.cfg.MinLength {
		return
	}

	code, err := Normalize(a.cfg, raw)
	if err != nil {
		a.onError(err)
		return
	}
	a.onCode(Code{Value: code, Raw: raw, Timestamp: nowFunc()})
}

// reset clears the buffer and scanning state. Callers must hold a.mu.
func (a *Assembler) reset() {
	a.buf.Reset()
	a.scanning = false
	if a.timer != nil {
		a.timer.Stop()
	}
}
