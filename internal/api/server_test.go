package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/events"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
)

type stubSessionStore struct{}

func (stubSessionStore) InsertSession(context.Context, string, string, string) error { return nil }
func (stubSessionStore) GetSession(context.Context, string) (*database.Session, error) {
	return &database.Session{ID: "s1"}, nil
}
func (stubSessionStore) ListSessions(context.Context, int, int) ([]database.Session, error) {
	return nil, nil
}

func newTestServer(t *testing.T, bus *events.Bus) *Server {
	t.Helper()
	recordings, err := storage.NewRecordingStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	queue := pipeline.NewQueue(pipeline.QueueOptions{
		Orchestrator: pipeline.NewOrchestrator(pipeline.OrchestratorOptions{Log: zerolog.Nop()}),
		Log:          zerolog.Nop(),
	})
	log := zerolog.Nop()
	return NewServer(ServerOptions{
		Addr:         "127.0.0.1:0",
		ReadTimeout:  time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
		Jobs:         NewJobsHandler(queue, recordings, stubSessionStore{}, 10, "en-US", log),
		Sessions:     NewSessionsHandler(stubSessionStore{}, log),
		Events:       NewEventsHandler(bus, log),
		Health:       NewHealthHandler(queue, log),
		Log:          log,
	})
}

// The SSE stream has to survive the full middleware chain, including the
// metrics instrumentation that wraps the response writer.
func TestServerStreamsEventsThroughMiddleware(t *testing.T) {
	bus := events.NewBus(16)
	bus.Publish("job_status", "j1", "s1", map[string]any{"status": "processing"})
	bus.Publish("job_status", "j1", "s1", map[string]any{"status": "completed"})
	buffered := bus.ReplaySince("", events.Filter{})
	if len(buffered) != 2 {
		t.Fatalf("buffered events = %d, want 2", len(buffered))
	}

	srv := newTestServer(t, bus)
	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Last-Event-ID", buffered[0].ID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	r := bufio.NewReader(resp.Body)
	var sawReplay bool
	for !sawReplay {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.TrimSpace(line) == "id: "+buffered[1].ID {
			sawReplay = true
		}
	}
}

func TestServerAppliesConfiguredTimeouts(t *testing.T) {
	srv := newTestServer(t, events.NewBus(4))
	if srv.srv.ReadTimeout != time.Minute {
		t.Errorf("read timeout = %v, want 1m", srv.srv.ReadTimeout)
	}
	if srv.srv.WriteTimeout != 30*time.Second {
		t.Errorf("write timeout = %v, want 30s", srv.srv.WriteTimeout)
	}
	if srv.srv.IdleTimeout != 2*time.Minute {
		t.Errorf("idle timeout = %v, want 2m", srv.srv.IdleTimeout)
	}
}
