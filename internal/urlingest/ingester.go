// Package urlingest accepts JSON frames from a companion browser extension
// over a loopback WebSocket and exposes the latest frame to the Monitor
// Loop.
package urlingest

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Frame is the latest accepted browser-extension observation.
type Frame struct {
	URL         string
	ProfileName string
	Title       string
	TabID       int
	Timestamp   time.Time
}

// wireMessage is the raw JSON frame sent by the extension.
type wireMessage struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	ProfileName string `json:"profileName"`
	Title       string `json:"title"`
	TabID       int    `json:"tabId"`
	Timestamp   int64  `json:"timestamp"`
}

// Ingester owns the loopback WebSocket listener and the single
// mutex-protected "latest frame" cell.
type Ingester struct {
	addr string
	log  *logrus.Entry

	upgrader websocket.Upgrader

	mu    sync.Mutex
	frame *Frame

	srv *http.Server
}

// New constructs an Ingester bound to the given loopback address
// (default "127.0.0.1:8766").
func New(addr string, log *logrus.Entry) *Ingester {
	if addr == "" {
		addr = "127.0.0.1:8766"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ingester{
		addr: addr,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // extension origin is opaque; loopback bind is the boundary
		},
	}
}

// Latest returns a copy of the most recently accepted frame, or nil if
// none has arrived yet. Holding the lock for the duration of a single
// struct copy means readers never block the ingester's accept loop for
// more than that.
func (i *Ingester) Latest() *Frame {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.frame == nil {
		return nil
	}
	f := *i.frame
	return &f
}

// ListenAndServe binds the listening port and serves until the listener
// is closed by Shutdown. A bind failure is fatal for the ingester but not
// for the Monitor Loop, which simply never sees URL data.
func (i *Ingester) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", i.handleConn)
	i.srv = &http.Server{Addr: i.addr, Handler: mux}

	ln, err := net.Listen("tcp", i.addr)
	if err != nil {
		return err
	}
	i.log.WithField("addr", i.addr).Info("url ingester listening")
	return i.srv.Serve(ln)
}

// Shutdown closes the listening socket; in-flight client reads are
// aborted.
func (i *Ingester) Shutdown() error {
	if i.srv == nil {
		return nil
	}
	return i.srv.Close()
}

func (i *Ingester) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.log.WithError(err).Debug("url ingester upgrade failed")
		return
	}
	defer conn.Close()
	i.log.Debug("browser extension connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			i.log.WithError(err).Debug("browser extension disconnected")
			return
		}
		i.accept(data)
	}
}

// accept parses and stores a frame. Unrecognised or malformed messages are
// discarded silently, per protocol.
func (i *Ingester) accept(data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != "url_change" || strings.TrimSpace(msg.URL) == "" {
		return
	}

	f := &Frame{
		URL:         msg.URL,
		ProfileName: msg.ProfileName,
		Title:       msg.Title,
		TabID:       msg.TabID,
		Timestamp:   time.UnixMilli(msg.Timestamp),
	}

	i.mu.Lock()
	i.frame = f
	i.mu.Unlock()
}
