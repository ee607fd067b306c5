// Package focus implements the FocusEnforcer: a tag- and time-window-gated
// actuator that minimises forbidden windows.
package focus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/havenwatch/tracker/internal/model"
)

// window is a parsed block-time range for one tag.
type window struct {
	startMin, endMin int // minutes since local midnight
}

// contains reports whether nowMin falls in [start, end), wrap-aware: if
// start > end the window wraps midnight.
func (w window) contains(nowMin int) bool {
	if w.startMin <= w.endMin {
		return w.startMin <= nowMin && nowMin < w.endMin
	}
	return nowMin >= w.startMin || nowMin < w.endMin
}

// neverBlock lists process names (case-insensitive) the enforcer will
// never minimise: the tracker's own executable, its dev entrypoints, and
// the Monitor Loop's sentinel process names for non-window states.
var neverBlock = map[string]bool{
	"tracker":     true,
	"go":          true, // `go run ./cmd/tracker`
	"dlv":         true, // delve debugger
	"__locked__":  true,
	"__idle__":    true,
	"__unknown__": true,
}

// tagLister is the subset of store.Store Reload needs.
type tagLister interface {
	ListTags(ctx context.Context) ([]model.Tag, error)
}

// Enforcer is the FocusEnforcer.
type Enforcer struct {
	store tagLister
	log   *logrus.Entry

	windows atomic.Pointer[map[string]window] // tag_id -> window
}

// New constructs an Enforcer and performs an initial Reload.
func New(ctx context.Context, st tagLister, log *logrus.Entry) (*Enforcer, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Enforcer{store: st, log: log}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload rebuilds the blocked-tag map from the Tag table. Tags with the
// block flag set but times missing are not blocked -- this is an
// intentional escape so misconfiguration cannot lock out the desktop.
// The map is replaced atomically so a concurrent Consider never observes
// a partially rebuilt map.
func (e *Enforcer) Reload(ctx context.Context) error {
	tags, err := e.store.ListTags(ctx)
	if err != nil {
		return err
	}

	m := make(map[string]window)
	for _, t := range tags {
		if !t.BlockEnabled || t.BlockStart == "" || t.BlockEnd == "" {
			continue
		}
		start, ok1 := parseClock(t.BlockStart)
		end, ok2 := parseClock(t.BlockEnd)
		if !ok1 || !ok2 {
			e.log.WithField("tag", t.Name).Warn("block window has unparsable times, treated as unset")
			continue
		}
		m[t.ID] = window{startMin: start, endMin: end}
	}
	e.windows.Store(&m)
	return nil
}

func parseClock(hhmm string) (int, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// IsBlocked reports whether tagID is currently within its block window.
func (e *Enforcer) IsBlocked(tagID string) bool {
	windows := e.windows.Load()
	if windows == nil {
		return false
	}
	w, ok := (*windows)[tagID]
	if !ok {
		return false
	}
	now := time.Now()
	nowMin := now.Hour()*60 + now.Minute()
	return w.contains(nowMin)
}

// Consider minimises hwnd if process_name is not on the never-block list
// and tagID is currently blocked.
func (e *Enforcer) Consider(tagID, processName string, hwnd uintptr) {
	if neverBlock[strings.ToLower(processName)] {
		return
	}
	if !e.IsBlocked(tagID) {
		return
	}
	if err := minimiseWindow(hwnd); err != nil {
		e.log.WithError(err).WithField("hwnd", hwnd).Debug("minimise window failed, ignored")
	}
}

// EmergencyReset clears every tag's block flag after validating reason is
// at least 10 characters. Individual time-window enforcement resumes only
// when a tag's block flag is re-enabled.
func EmergencyReset(ctx context.Context, st interface {
	ListTags(ctx context.Context) ([]model.Tag, error)
	UpsertTag(ctx context.Context, t model.Tag) (model.Tag, error)
}, reason string, log *logrus.Entry) error {
	if len(strings.TrimSpace(reason)) < 10 {
		return fmt.Errorf("focus: emergency reset reason must be at least 10 characters")
	}
	tags, err := st.ListTags(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if !t.BlockEnabled {
			continue
		}
		t.BlockEnabled = false
		if _, err := st.UpsertTag(ctx, t); err != nil {
			return err
		}
	}
	if log != nil {
		log.WithField("reason", reason).Warn("emergency reset: all block flags cleared")
	}
	return nil
}

// minimiseWindow issues an OS "minimise window" call. The enforcer never
// kills processes or steals focus -- it only minimises.
func minimiseWindow(hwnd uintptr) error {
	return platformMinimise(hwnd)
}
