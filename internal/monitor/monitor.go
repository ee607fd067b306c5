// Package monitor implements the Monitor Loop: a periodic sampler that
// merges three asynchronous signals (foreground window, idle/lock state,
// latest browser URL) into a stream of activity intervals, driving the
// Store, RuleEngine, FocusEnforcer and Notifier.
package monitor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/havenwatch/tracker/internal/model"
	"github.com/havenwatch/tracker/internal/probe"
	"github.com/havenwatch/tracker/internal/urlingest"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultIdleSeconds  = 300.0
	fallbackSleep       = 2 * time.Second
)

// Probe is the subset of internal/probe.Probe the loop needs. A
// *probe.Probe and a *demo.Source both satisfy it, so --demo mode can
// swap in a synthetic feed without the loop knowing the difference.
type Probe interface {
	IsLocked() bool
	IdleSeconds() float64
	ActiveWindow() (*probe.Window, error)
}

// URLSource supplies the latest accepted browser-extension frame.
type URLSource interface {
	Latest() *urlingest.Frame
}

// Store is the subset of store.Store the loop needs.
type Store interface {
	CreateActivity(ctx context.Context, obs model.Observation, tagID, ruleID *string) (int64, error)
	EndActivity(ctx context.Context, id int64) error
	GetSetting(ctx context.Context, key, def string) (string, error)
}

// RuleEngine is the subset of rules.Engine the loop needs.
type RuleEngine interface {
	Match(ctx context.Context, obs model.Observation) (tagID string, ruleID *string)
}

// FocusEnforcer is the subset of focus.Enforcer the loop needs.
type FocusEnforcer interface {
	Consider(tagID, processName string, hwnd uintptr)
}

// Notifier is the subset of notify.Notifier the loop needs.
type Notifier interface {
	Maybe(ctx context.Context, tagID string)
}

// Publisher receives every activity transition, for the external façade's
// live cache and WebSocket broadcast.
type Publisher interface {
	Publish(activityID int64, tagID, ruleID string, obs model.Observation, start time.Time)
}

// DailyLogFunc schedules yesterday's daily-log generation when the wall
// clock date changes. Supplied by internal/api, which owns the log
// generator; kept here as a function value so monitor never imports api.
type DailyLogFunc func(date time.Time)

type tickState struct {
	observation model.Observation
	activityID  int64
	tagID       string
	hwnd        uintptr
	hasActivity bool
}

// Monitor is the Monitor Loop.
type Monitor struct {
	probe    Probe
	urls     URLSource
	store    Store
	engine   RuleEngine
	enforcer FocusEnforcer
	notifier Notifier
	publish  Publisher
	onDate   DailyLogFunc
	log      *logrus.Entry

	paused atomic.Bool

	mu       sync.Mutex
	current  tickState
	lastDate time.Time

	tickerMu   sync.Mutex
	tickerStop chan struct{}
}

// New constructs a Monitor Loop. Start must be called to begin ticking.
func New(probe Probe, urls URLSource, st Store, engine RuleEngine, enforcer FocusEnforcer, notifier Notifier, publish Publisher, onDate DailyLogFunc, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{
		probe: probe, urls: urls, store: st, engine: engine,
		enforcer: enforcer, notifier: notifier, publish: publish, onDate: onDate, log: log,
	}
}

// Pause causes the next tick to close the current activity and then idle
// until Resume is called. No new activities are opened while paused.
func (m *Monitor) Pause() { m.paused.Store(true) }

// Resume clears the paused flag.
func (m *Monitor) Resume() { m.paused.Store(false) }

// Start runs the tick loop until ctx is cancelled or Stop is called. The
// polling interval is re-read from settings after every tick; a changed
// value takes effect on the following tick without restarting the loop.
func (m *Monitor) Start(ctx context.Context) {
	interval := m.pollIntervalSetting(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.tickerMu.Lock()
	m.tickerStop = make(chan struct{})
	stop := m.tickerStop
	m.tickerMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.safeTick(ctx)

			if next := m.pollIntervalSetting(ctx); next != interval {
				interval = next
				ticker.Stop()
				ticker = time.NewTicker(interval)
			}
		}
	}
}

// Stop signals the loop to exit. Safe to call at most once per Start.
func (m *Monitor) Stop() {
	m.tickerMu.Lock()
	defer m.tickerMu.Unlock()
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
}

// RequestDbClose ends the current open activity, if any, so the store can
// be safely closed (e.g. ahead of a database restore). It returns false if
// it could not complete within timeout.
func (m *Monitor) RequestDbClose(ctx context.Context, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.current.hasActivity {
			m.endCurrentLocked(ctx)
		}
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// safeTick recovers a panicking tick, logs it, and waits one fallback
// period before returning -- the loop never terminates on a recoverable
// error.
func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("monitor tick panicked, recovering")
			time.Sleep(fallbackSleep)
		}
	}()
	m.tick(ctx)
}

func (m *Monitor) pollIntervalSetting(ctx context.Context) time.Duration {
	v, err := m.store.GetSetting(ctx, model.SettingPollingInterval, "2")
	if err != nil {
		return defaultPollInterval
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return defaultPollInterval
	}
	return time.Duration(secs * float64(time.Second))
}

func (m *Monitor) idleThresholdSetting(ctx context.Context) float64 {
	v, err := m.store.GetSetting(ctx, model.SettingIdleThreshold, "300")
	if err != nil {
		return defaultIdleSeconds
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return defaultIdleSeconds
	}
	return secs
}

// tick runs one iteration of: pause check, date-change trigger, sample
// build, change detection, close/classify/open, publish, notify, enforce.
func (m *Monitor) tick(ctx context.Context) {
	if m.paused.Load() {
		m.mu.Lock()
		if m.current.hasActivity {
			m.endCurrentLocked(ctx)
		}
		m.mu.Unlock()
		return
	}

	m.maybeScheduleDailyLog()

	obs := m.buildSample(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.changed(obs) {
		if m.current.hasActivity {
			m.notifier.Maybe(ctx, m.current.tagID)
			m.enforcer.Consider(m.current.tagID, obs.ProcessName, m.current.hwnd)
		}
		return
	}

	if m.current.hasActivity {
		m.endCurrentLocked(ctx)
	}

	tagID, ruleID := m.engine.Match(ctx, obs)
	activityID, err := m.store.CreateActivity(ctx, obs, &tagID, ruleID)
	if err != nil {
		m.log.WithError(err).Error("create activity failed")
		return
	}

	var ruleIDStr string
	if ruleID != nil {
		ruleIDStr = *ruleID
	}

	m.current = tickState{observation: obs, activityID: activityID, tagID: tagID, hwnd: obs.HWND, hasActivity: true}

	if m.publish != nil {
		m.publish.Publish(activityID, tagID, ruleIDStr, obs, time.Now().UTC())
	}
	m.notifier.Maybe(ctx, tagID)
	m.enforcer.Consider(tagID, obs.ProcessName, obs.HWND)
}

func (m *Monitor) endCurrentLocked(ctx context.Context) {
	if err := m.store.EndActivity(ctx, m.current.activityID); err != nil {
		m.log.WithError(err).WithField("activity_id", m.current.activityID).Error("end activity failed")
	}
	m.current = tickState{}
}

// changed implements the per-tick change-detection rule: a different
// process name is always a change; while the lock/idle sentinels are
// active, title/URL mutation is ignored (kept explicit even though the
// sentinel titles are constant); otherwise a differing title or URL is a
// change.
func (m *Monitor) changed(obs model.Observation) bool {
	if !m.current.hasActivity {
		return true
	}
	prev := m.current.observation
	if prev.ProcessName != obs.ProcessName {
		return true
	}
	if obs.ProcessName == model.ProcessIdle || obs.ProcessName == model.ProcessLocked {
		return false
	}
	return prev.WindowTitle != obs.WindowTitle || prev.BrowserURL != obs.BrowserURL
}

// buildSample runs the lock/idle/active-window decision tree and attaches
// a correlated browser URL when the foreground window looks like a
// browser and the latest ingested frame's title matches.
func (m *Monitor) buildSample(ctx context.Context) model.Observation {
	if m.probe.IsLocked() {
		return model.Observation{ProcessName: model.ProcessLocked, WindowTitle: "Screen Locked"}
	}

	if m.probe.IdleSeconds() > m.idleThresholdSetting(ctx) {
		return model.Observation{ProcessName: model.ProcessIdle, WindowTitle: "Idle"}
	}

	w, err := m.probe.ActiveWindow()
	if err != nil || w == nil {
		return model.Observation{ProcessName: model.ProcessUnknown, WindowTitle: "Unknown"}
	}

	obs := model.Observation{
		ProcessName:    w.ProcessName,
		ProcessPath:    w.ProcessPath,
		WindowTitle:    w.Title,
		BrowserProfile: w.BrowserProfile,
		PID:            w.PID,
		HWND:           w.HWND,
	}

	if isBrowser(w.ProcessName) && m.urls != nil {
		if frame := m.urls.Latest(); frame != nil && frame.Title != "" && strings.Contains(obs.WindowTitle, frame.Title) {
			obs.BrowserURL = frame.URL
			if frame.ProfileName != "" {
				obs.BrowserProfile = frame.ProfileName
			}
		}
	}

	return obs
}

// isBrowser matches on substring: any process whose name contains "chrome"
// (also catching "chromium", the same Chromium family) is treated as a
// browser for the purpose of correlating an ingested URL frame.
func isBrowser(processName string) bool {
	return strings.Contains(strings.ToLower(processName), "chrome")
}

func (m *Monitor) maybeScheduleDailyLog() {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	m.mu.Lock()
	prev := m.lastDate
	changed := !prev.Equal(today)
	m.lastDate = today
	m.mu.Unlock()

	if changed && !prev.IsZero() && m.onDate != nil {
		go m.onDate(prev)
	}
}
