package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rpattn/bulkorders/internal/logging"
)

// handleEvents streams hub notifications as Server-Sent Events until the
// client disconnects or another connection subscribes with the same id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("clientId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "clientId is required")
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming not supported")
		return
	}

	logger := logging.WithFields(r.Context(), "client_id", clientID)

	// The stream outlives the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("failed to clear write deadline", "error", err)
	}

	events, err := s.hub.Subscribe(clientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	defer s.hub.UnsubscribeChannel(clientID, events)

	logger.Debug("event stream opened")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(frame string) bool {
		if _, err := fmt.Fprint(w, frame); err != nil {
			logger.Debug("event stream write failed", "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("event stream flush failed", "error", err)
			return false
		}
		return true
	}

	if !send(": connected\n\n") {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var seq int64
	for {
		select {
		case event, ok := <-events:
			if !ok {
				logger.Debug("event stream replaced")
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Warn("failed to encode event", "type", event.Type, "error", err)
				continue
			}
			seq++
			if !send(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, data)) {
				return
			}
		case <-heartbeat.C:
			if !send(": ping\n\n") {
				return
			}
		case <-r.Context().Done():
			logger.Debug("event stream closed")
			return
		}
	}
}
