package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleSSE streams bus events as Server-Sent Events. The event name is the
// event type and the data is the event as JSON.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if s.eventBus == nil {
		respondError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	eventCh := s.eventBus.Subscribe(r.URL.Query()["type"]...)
	defer s.eventBus.Unsubscribe(eventCh)

	s.logger.Info("SSE client connected", "remote_addr", r.RemoteAddr)

	s.sendSSEEvent(w, flusher, "connected", map[string]string{
		"status":      "connected",
		"instance_id": s.commander.InstanceID(),
	})

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case event, ok := <-eventCh:
			if !ok {
				s.logger.Info("event bus closed, ending SSE stream")
				return
			}
			s.sendSSEEvent(w, flusher, event.EventType(), event)
		}
	}
}

// sendSSEEvent writes one event in SSE framing.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
