package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/depotjobs/internal/model"
)

// handleJobEvents streams the job's snapshots as SSE "status" events until
// it is terminal, then sends a "done" event.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	snap, updates, unsubscribe, ok := s.engine.Watch(guid)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	sseStreams.Inc()
	defer sseStreams.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if err := writeSnapshotEvent(w, snap); err != nil {
		return
	}
	flush()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				// Send the final state; the last update may have been dropped.
				if final, found := s.engine.TryGetJob(guid); found {
					_ = writeSnapshotEvent(w, final)
				}
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if err := writeSnapshotEvent(w, update); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, snap model.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "event: status\n"); err != nil {
		return err
	}
	return writeSSEData(w, string(payload))
}

// writeSSEData writes an SSE data event. Multi-line strings are split so
// that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
