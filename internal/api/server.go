// Package api is the External Interfaces façade: a loopback-bound chi
// router exposing dashboard/timeline queries, tags/rules CRUD, settings,
// focus-window control, database backup/restore, and the /ws/activity
// broadcast, grounded on the teacher's HTTP-handler-per-concern server
// shape.
package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/havenwatch/tracker/internal/config"
	"github.com/havenwatch/tracker/internal/focus"
	"github.com/havenwatch/tracker/internal/live"
	"github.com/havenwatch/tracker/internal/model"
	"github.com/havenwatch/tracker/internal/notify"
	"github.com/havenwatch/tracker/internal/rules"
	"github.com/havenwatch/tracker/internal/store"
	"github.com/havenwatch/tracker/internal/ws"
)

// MonitorControl is the subset of monitor.Monitor the façade needs for
// the deferred database-restore flow.
type MonitorControl interface {
	Pause()
	Resume()
	RequestDbClose(ctx context.Context, timeout time.Duration) bool
}

// Server holds every dependency the External Interfaces façade needs and
// builds the chi router.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	engine      *rules.Engine
	enforcer    *focus.Enforcer
	notifier    *notify.Notifier
	monitor     MonitorControl
	cache       *live.Cache
	broadcaster *ws.Broadcaster
	cron        *cron.Cron
	log         *logrus.Entry

	authToken      string
	allowedOrigins map[string]bool

	upgrader websocket.Upgrader
}

// NewServer constructs the façade. Call Router to obtain the http.Handler
// and Start to begin the daily-log cron schedule.
func NewServer(cfg *config.Config, st *store.Store, engine *rules.Engine, enforcer *focus.Enforcer, notifier *notify.Notifier, mon MonitorControl, cache *live.Cache, broadcaster *ws.Broadcaster, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	allowedOrigins := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowedOrigins[o] = true
	}
	s := &Server{
		cfg: cfg, store: st, engine: engine, enforcer: enforcer, notifier: notifier,
		monitor: mon, cache: cache, broadcaster: broadcaster,
		cron:           cron.New(),
		log:            log,
		authToken:      cfg.Server.AuthToken,
		allowedOrigins: allowedOrigins,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Start schedules the midnight daily-log rollover and begins the cron
// scheduler. Safe to call once.
func (s *Server) Start() {
	if _, err := s.cron.AddFunc("@midnight", func() {
		s.writeDailyLog(time.Now().Add(-time.Hour))
	}); err != nil {
		s.log.WithError(err).Error("failed to schedule daily log rollover")
	}
	s.cron.Start()
}

// Stop halts the cron scheduler. Its context is done once all running jobs
// finish.
func (s *Server) Stop() context.Context {
	return s.cron.Stop()
}

// OnDateChange adapts the Monitor Loop's date-change hook to the daily log
// writer, so yesterday's log is flushed as soon as the loop notices
// midnight has passed, without waiting for the cron tick.
func (s *Server) OnDateChange(date time.Time) {
	s.writeDailyLog(date)
}

// Router builds the chi.Mux with every route from the External Interfaces
// section wired in.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.authMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard/daily", s.handleDashboardDaily)
		r.Get("/dashboard/period", s.handleDashboardPeriod)
		r.Get("/dashboard/hourly", s.handleDashboardHourly)
		r.Get("/timeline", s.handleTimeline)

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleListTags)
			r.Post("/", s.handleCreateTag)
			r.Get("/{id}", s.handleGetTag)
			r.Put("/{id}", s.handleUpdateTag)
			r.Delete("/{id}", s.handleDeleteTag)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Post("/reclassify/untagged", s.handleReclassifyUntagged)
		r.Post("/reclassify/all", s.handleReclassifyAll)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/settings/autostart", s.handleGetAutostart)
		r.Put("/settings/autostart", s.handlePutAutostart)

		r.Get("/focus", s.handleGetFocus)
		r.Put("/focus/{tag_id}", s.handlePutFocus)
		r.Post("/focus/emergency-reset", s.handleEmergencyReset)

		r.Post("/data/db/backup", s.handleDbBackup)
		r.Post("/data/db/restore", s.handleDbRestore)
		r.Get("/data/rules/export", s.handleRulesExport)
		r.Post("/data/rules/import", s.handleRulesImport)
	})

	r.Get("/ws/activity", s.handleWSActivity)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("handled request")
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", rec).Error("api handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware gates every route behind authorize, adapting the teacher's
// per-handler "if !s.authorize(r)" check into a single chi middleware since
// this façade uses one mux-wide router rather than a handler per endpoint.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize reports whether the request carries the configured auth token.
// An empty configured token disables the check entirely (the default,
// loopback-only deployment). The token may arrive as a "token" query
// parameter (needed for the WebSocket handshake, which can't set arbitrary
// headers from a browser), an X-Tracker-Token header, or a standard
// Authorization: Bearer header.
func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Tracker-Token") == s.authToken {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if strings.TrimPrefix(auth, "Bearer ") == s.authToken {
			return true
		}
	}
	return false
}

// checkOrigin is the websocket.Upgrader's CheckOrigin callback. Requests
// without an Origin header (non-browser clients) are always allowed. With
// an explicit allowlist configured, the origin must match it exactly or by
// host. Otherwise, same-host requests and loopback origins are allowed --
// the default posture for a loopback-bound server reached from a local UI.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] || s.allowedOrigins[u.Hostname()] {
			return true
		}
		return false
	}

	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// Publish adapts a Monitor Loop transition into a live-cache update and a
// /ws/activity broadcast, satisfying monitor.Publisher.
func (s *Server) Publish(activityID int64, tagID, ruleID string, obs model.Observation, start time.Time) {
	tagName := ""
	if t, err := s.store.GetTag(context.Background(), tagID); err == nil {
		tagName = t.Name
	}

	s.cache.Set(live.Snapshot{
		Observation: obs,
		TagID:       tagID,
		TagName:     tagName,
		RuleID:      ruleID,
		ActivityID:  activityID,
		Since:       start,
	})

	s.broadcaster.Publish(ws.ActivityUpdate{
		ActivityID:  activityID,
		ProcessName: obs.ProcessName,
		WindowTitle: obs.WindowTitle,
		BrowserURL:  obs.BrowserURL,
		TagID:       tagID,
		TagName:     tagName,
		RuleID:      ruleID,
		Start:       start.Format(time.RFC3339Nano),
	})
}
