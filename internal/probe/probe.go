// Package probe performs the three synchronous OS queries the Monitor Loop
// needs each tick: lock state, idle seconds, and the foreground window.
// The probe is stateless and safe to call at any cadence; platform-specific
// implementations live in probe_linux.go / probe_other.go.
package probe

import "errors"

// ErrUnsupported is returned by ActiveWindow on platforms without a probe
// implementation; there IsLocked reports false and IdleSeconds reports 0.
var ErrUnsupported = errors.New("probe: unsupported platform")

// Window describes the foreground window's attributes.
type Window struct {
	Title          string
	ProcessName    string
	ProcessPath    string
	PID            int
	HWND           uintptr
	BrowserProfile string // empty unless ProcessName looks like a browser
}

// Probe is the Window/Idle Probe interface implemented per-OS.
type Probe interface {
	// IsLocked reports whether the interactive desktop is not switchable.
	IsLocked() bool
	// IdleSeconds reports seconds since the last keyboard/mouse input.
	IdleSeconds() float64
	// ActiveWindow returns the foreground window's attributes, or nil
	// when it cannot be read.
	ActiveWindow() (*Window, error)
}

// New returns the platform Probe.
func New() Probe {
	return newPlatformProbe()
}
