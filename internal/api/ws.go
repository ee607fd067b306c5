package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/havenwatch/tracker/internal/ws"
)

type inboundMessage struct {
	Type string `json:"type"`
}

// handleWSActivity upgrades to a WebSocket connection and fans out
// activity_update events pushed by the Monitor Loop via Publish. The only
// inbound message it understands is {"type":"ping"}, answered with pong.
func (s *Server) handleWSActivity(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client, err := s.broadcaster.AddClient(conn)
	if err != nil {
		conn.Close()
		return
	}
	defer s.broadcaster.RemoveClient(client)

	if snap := s.cache.Get(); snap.ActivityID != 0 {
		startStr := ""
		if !snap.Since.IsZero() {
			startStr = snap.Since.Format(time.RFC3339Nano)
		}
		s.broadcaster.Publish(ws.ActivityUpdate{
			ActivityID:  snap.ActivityID,
			ProcessName: snap.Observation.ProcessName,
			WindowTitle: snap.Observation.WindowTitle,
			BrowserURL:  snap.Observation.BrowserURL,
			TagID:       snap.TagID,
			TagName:     snap.TagName,
			RuleID:      snap.RuleID,
			Start:       startStr,
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "ping" {
			s.broadcaster.Pong(client)
		}
	}
}
