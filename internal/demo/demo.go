// Package demo supplies a synthetic activity feed for the daemon's --demo
// mode: a canned rotation of window/process samples that exercises the
// Monitor Loop, RuleEngine and façade without needing a real X11 session
// or browser extension, grounded on the teacher's canned-scenario mock
// session generator.
package demo

import (
	"sync"
	"time"

	"github.com/havenwatch/tracker/internal/probe"
)

// scenario is one canned sample in the rotation.
type scenario struct {
	processName string
	processPath string
	title       string
	holdTicks   int // number of polls this sample stays active before advancing
}

var defaultScenarios = []scenario{
	{processName: "code", processPath: "/usr/bin/code", title: "monitor.go - tracker - Visual Studio Code", holdTicks: 6},
	{processName: "chrome", processPath: "/usr/bin/google-chrome", title: "golang/go: The Go programming language - GitHub - Google Chrome", holdTicks: 4},
	{processName: "slack", processPath: "/usr/bin/slack", title: "#general | Havenwatch - Slack", holdTicks: 3},
	{processName: "chrome", processPath: "/usr/bin/google-chrome", title: "Reddit - Dive into anything - Google Chrome", holdTicks: 5},
	{processName: "terminal", processPath: "/usr/bin/gnome-terminal", title: "user@host: ~/tracker", holdTicks: 4},
	{processName: "spotify", processPath: "/usr/bin/spotify", title: "Spotify Premium", holdTicks: 8},
}

// Source implements monitor.Probe by playing back a fixed rotation of
// samples, never locked and never idle, advancing one scenario every
// holdTicks polls.
type Source struct {
	mu        sync.Mutex
	scenarios []scenario
	index     int
	remaining int
}

// NewSource builds a Source over the default scenario rotation.
func NewSource() *Source {
	return newSourceWithScenarios(defaultScenarios)
}

func newSourceWithScenarios(scenarios []scenario) *Source {
	if len(scenarios) == 0 {
		scenarios = defaultScenarios
	}
	return &Source{scenarios: scenarios, remaining: scenarios[0].holdTicks}
}

// IsLocked always reports unlocked; the demo feed never simulates a lock
// screen.
func (s *Source) IsLocked() bool { return false }

// IdleSeconds always reports active; the demo feed never simulates idle.
func (s *Source) IdleSeconds() float64 { return 0 }

// ActiveWindow returns the current scenario's window, advancing to the
// next scenario in the rotation once the current one's hold count is
// exhausted.
func (s *Source) ActiveWindow() (*probe.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.scenarios[s.index]
	w := &probe.Window{
		ProcessName: cur.processName,
		ProcessPath: cur.processPath,
		Title:       cur.title,
		PID:         10000 + s.index,
		HWND:        uintptr(10000 + s.index),
	}

	s.remaining--
	if s.remaining <= 0 {
		s.index = (s.index + 1) % len(s.scenarios)
		s.remaining = s.scenarios[s.index].holdTicks
	}

	return w, nil
}

// PollInterval is the suggested tick rate for demo mode: fast enough to
// see the rotation progress within a short-lived terminal demo.
const PollInterval = 1500 * time.Millisecond
