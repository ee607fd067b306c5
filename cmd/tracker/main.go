// Command tracker is the activity-tracking daemon: it supervises the
// Monitor Loop, the browser-extension URL ingester and the local HTTP/WS
// façade as cooperative peers under a single context, grounded on the
// teacher's cmd/server/main.go wiring shape.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/havenwatch/tracker/internal/api"
	"github.com/havenwatch/tracker/internal/config"
	"github.com/havenwatch/tracker/internal/demo"
	"github.com/havenwatch/tracker/internal/focus"
	"github.com/havenwatch/tracker/internal/live"
	"github.com/havenwatch/tracker/internal/model"
	"github.com/havenwatch/tracker/internal/monitor"
	"github.com/havenwatch/tracker/internal/notify"
	"github.com/havenwatch/tracker/internal/probe"
	"github.com/havenwatch/tracker/internal/rules"
	"github.com/havenwatch/tracker/internal/store"
	"github.com/havenwatch/tracker/internal/urlingest"
	"github.com/havenwatch/tracker/internal/ws"
)

// facadeHandle breaks the construction cycle between the Monitor Loop
// (which needs a Publisher/DailyLogFunc) and the façade (which needs the
// Monitor as a MonitorControl): the handle is wired into the Monitor
// before the façade exists, and given its façade pointer once built.
type facadeHandle struct {
	srv *api.Server
}

func (h *facadeHandle) Publish(activityID int64, tagID, ruleID string, obs model.Observation, start time.Time) {
	if h.srv != nil {
		h.srv.Publish(activityID, tagID, ruleID, obs, start)
	}
}

func (h *facadeHandle) OnDateChange(date time.Time) {
	if h.srv != nil {
		h.srv.OnDateChange(date)
	}
}

func main() {
	demoMode := flag.Bool("demo", false, "use a canned activity source instead of the OS probe")
	configPath := flag.String("config", "", "path to config file (defaults to the XDG config path)")
	port := flag.Int("port", 0, "override the HTTP facade port")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A database restore staged on the previous run replaces the live
	// database before it is opened.
	metaPath, pendingDB, _ := cfg.RestorePendingPaths()
	if _, err := os.Stat(pendingDB); err == nil {
		for _, sidecar := range []string{"-wal", "-shm"} {
			os.Remove(cfg.Store.Path + sidecar)
		}
		if err := os.Rename(pendingDB, cfg.Store.Path); err != nil {
			log.WithError(err).Fatal("failed to apply staged database restore")
		}
		os.Remove(metaPath)
		log.Info("applied staged database restore")
	}

	st, err := store.Open(ctx, cfg.Store.Path, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open activity store")
	}
	defer st.Close()

	engine, err := rules.New(ctx, st, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build rule engine")
	}
	enforcer, err := focus.New(ctx, st, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build focus enforcer")
	}
	notifier := notify.New(st, st, nil, log)

	ingester := urlingest.New(net.JoinHostPort(cfg.URLIngest.Host, strconv.Itoa(cfg.URLIngest.Port)), log)

	cache := live.NewCache()
	broadcaster := ws.NewBroadcaster(cfg.Server.MaxConnections, log)

	var activeProbe monitor.Probe
	if *demoMode {
		log.Info("starting with a canned demo activity source")
		activeProbe = demo.NewSource()
	} else {
		activeProbe = probe.New()
	}

	handle := &facadeHandle{}
	mon := monitor.New(activeProbe, ingester, st, engine, enforcer, notifier, handle, handle.OnDateChange, log)

	facade := api.NewServer(cfg, st, engine, enforcer, notifier, mon, cache, broadcaster, log)
	handle.srv = facade
	facade.Start()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingester.ListenAndServe(); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("url ingester stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Start(ctx)
	}()

	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{Addr: httpAddr, Handler: facade.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", httpAddr).Info("http facade listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http facade stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	httpSrv.Shutdown(shutdownCtx)
	ingester.Shutdown()
	mon.Stop()
	<-facade.Stop().Done()

	cancel()
	wg.Wait()
	log.Info("tracker stopped")
}
