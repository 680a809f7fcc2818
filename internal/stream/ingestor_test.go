package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eventqueue/agent/internal/credentials"
	"github.com/eventqueue/agent/internal/domain"
)

func testCreds(t *testing.T) *credentials.Provider {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "credentials"), []byte("key-123\nsecret-456\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return credentials.New(dir)
}

// processorLog records every notification handed to Process.
type processorLog struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (p *processorLog) Process(_ context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, n.ID)
	return nil
}

func (p *processorLog) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// sleepRecorder replaces the ingestor's sleep so tests run instantly and can
// inspect the delays Run would have waited out.
type sleepRecorder struct {
	mu        sync.Mutex
	delays    []time.Duration
	failAfter int
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	if r.failAfter > 0 && len(r.delays) >= r.failAfter {
		return context.Canceled
	}
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// abortStream hijacks the connection and announces more body bytes than it
// sends, so the client's read fails mid-stream instead of seeing a clean EOF.
func abortStream(w http.ResponseWriter, payload string) {
	conn, buf, err := w.(http.Hijacker).Hijack()
	if err != nil {
		return
	}
	fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: %d\r\n\r\n%s",
		len(payload)+512, payload)
	buf.Flush()
	conn.Close()
}

func TestRun_ResumesAfterReadError(t *testing.T) {
	n := domain.Notification{ID: uuid.New(), DestinationURL: "http://localhost/x", Created: time.Now().UTC()}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}

	var connects atomic.Int32
	var resumedFrom atomic.Pointer[string]
	var apiKey atomic.Pointer[string]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch connects.Add(1) {
		case 1:
			k := r.Header.Get("X-Api-Key")
			apiKey.Store(&k)
			abortStream(w, fmt.Sprintf("id: evt-1\ndata: %s\n\n", data))
		default:
			id := r.Header.Get("Last-Event-ID")
			resumedFrom.Store(&id)
			w.Header().Set("Content-Type", "text/event-stream")
		}
	}))
	defer srv.Close()

	proc := &processorLog{}
	rec := &sleepRecorder{}
	ing := New(srv.URL, testCreds(t), proc)
	ing.sleep = rec.sleep

	if err := ing.Run(context.Background()); !errors.Is(err, domain.ErrStreamClosed) {
		t.Fatalf("Run = %v, want ErrStreamClosed", err)
	}

	if connects.Load() != 2 {
		t.Fatalf("connected %d times, want 2", connects.Load())
	}
	if got := apiKey.Load(); got == nil || *got != "key-123" {
		t.Errorf("X-Api-Key not sent on connect")
	}
	if got := resumedFrom.Load(); got == nil || *got != "evt-1" {
		t.Errorf("second connect did not resume from evt-1")
	}
	if proc.count() != 1 || proc.ids[0] != n.ID {
		t.Errorf("processed ids = %v, want exactly %s", proc.ids, n.ID)
	}

	// Sleeps: initial zero delay, the jittered read-error pause, then the
	// default reconnect delay adopted from the event (no retry hint).
	delays := rec.recorded()
	if len(delays) != 3 {
		t.Fatalf("recorded %d sleeps (%v), want 3", len(delays), delays)
	}
	if delays[0] != 0 {
		t.Errorf("first connect delayed by %v, want 0", delays[0])
	}
	if delays[1] < 0 || delays[1] > time.Second {
		t.Errorf("read-error pause %v outside [0, 1s]", delays[1])
	}
	if delays[2] != DefaultReconnectDelay {
		t.Errorf("reconnect delay = %v, want %v", delays[2], DefaultReconnectDelay)
	}
}

func TestRun_AdoptsRetryHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "retry: 1500\nid: evt-9\n\n")
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	ing := New(srv.URL, testCreds(t), &processorLog{})
	ing.sleep = rec.sleep

	if err := ing.Run(context.Background()); !errors.Is(err, domain.ErrStreamClosed) {
		t.Fatalf("Run = %v, want ErrStreamClosed", err)
	}
	if ing.reconnectDelay != 1500*time.Millisecond {
		t.Errorf("reconnect delay = %v, want 1.5s from the retry hint", ing.reconnectDelay)
	}
	if ing.lastEventID != "evt-9" {
		t.Errorf("last event id = %q, want evt-9", ing.lastEventID)
	}
}

func TestRun_InvalidEventDataSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: not json\n\n")
	}))
	defer srv.Close()

	proc := &processorLog{}
	ing := New(srv.URL, testCreds(t), proc)
	ing.sleep = (&sleepRecorder{}).sleep

	if err := ing.Run(context.Background()); !errors.Is(err, domain.ErrStreamClosed) {
		t.Fatalf("Run = %v, want ErrStreamClosed", err)
	}
	if proc.count() != 0 {
		t.Errorf("invalid event reached the processor %d times", proc.count())
	}
}

func TestRun_ConnectFailureBacksOffExponentially(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &sleepRecorder{failAfter: 6}
	ing := New(srv.URL, testCreds(t), &processorLog{})
	ing.sleep = rec.sleep

	if err := ing.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want the injected cancellation", err)
	}

	// Alternating [reconnect, backoff] pairs; the backoffs double.
	delays := rec.recorded()
	want := []time.Duration{0, time.Second, 0, 2 * time.Second, 0, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("recorded %d sleeps (%v), want %d", len(delays), delays, len(want))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, delays[i], d)
		}
	}
}

func TestRun_WrongContentTypeIsConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	rec := &sleepRecorder{failAfter: 2}
	ing := New(srv.URL, testCreds(t), &processorLog{})
	ing.sleep = rec.sleep

	if err := ing.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want the injected cancellation", err)
	}
	if delays := rec.recorded(); delays[1] != time.Second {
		t.Errorf("backoff = %v, want 1s for the first connect failure", delays[1])
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ing := New("http://127.0.0.1:1", testCreds(t), &processorLog{})
	if err := ing.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestEventAddLine(t *testing.T) {
	var ev event
	ev.addLine(": keep-alive comment")
	ev.addLine("id: evt-3")
	ev.addLine("retry:250")
	ev.addLine("data: first")
	ev.addLine("data: second")
	ev.addLine("unknown: ignored")

	if ev.id != "evt-3" {
		t.Errorf("id = %q", ev.id)
	}
	if ev.retry != "250" {
		t.Errorf("retry = %q", ev.retry)
	}
	if ev.data != "first\nsecond" {
		t.Errorf("data = %q, want the lines joined by newline", ev.data)
	}

	var empty event
	if !empty.empty() {
		t.Error("zero event should be empty")
	}
	if ev.empty() {
		t.Error("populated event reported empty")
	}
}
