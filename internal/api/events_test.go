package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/depotjobs/internal/model"
)

type sseEvent struct {
	name string
	data string
}

// readEvents reads SSE events until the stream ends.
func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.name != "" || cur.data != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data += strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestJobEventsStreamUntilDone(t *testing.T) {
	srv, eng := newTestServerWithEngine(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	guid := submitBlocking(t, eng)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + guid + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The first event is sent before the handler waits for updates.
	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || first != "event: status\n" {
		t.Fatalf("first line = %q, %v", first, err)
	}

	if err := eng.Cancel(guid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	events := readEvents(t, reader)
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least 2", len(events))
	}

	last := events[len(events)-1]
	if last.name != "done" {
		t.Errorf("last event = %q, want done", last.name)
	}

	var final model.Snapshot
	if err := json.Unmarshal([]byte(events[len(events)-2].data), &final); err != nil {
		t.Fatalf("decode final snapshot: %v", err)
	}
	if final.Status != model.StatusCancelled {
		t.Errorf("final status = %s, want CANCELLED", final.Status)
	}
}

func TestJobEventsTerminalJob(t *testing.T) {
	srv, eng := newTestServerWithEngine(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	guid := submitBlocking(t, eng)
	if err := eng.Cancel(guid); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForStatus(t, eng, guid, model.StatusCancelled)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + guid + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	events := readEvents(t, resp.Body)
	if len(events) == 0 || events[len(events)-1].name != "done" {
		t.Fatalf("events = %+v, want a trailing done event", events)
	}
}

func TestJobEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/missing/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
