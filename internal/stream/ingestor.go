// Package stream maintains the long-lived resumable event connection to the
// origin and feeds every received notification into the pipeline in arrival
// order. It owns the reconnect/backoff policy; transport failures never reach
// a caller — the only ways Run returns are cancellation and a clean close of
// the stream by the origin.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/credentials"
	"github.com/eventqueue/agent/internal/domain"
	"github.com/eventqueue/agent/internal/retry"
)

// DefaultReconnectDelay is slept before reconnecting when the origin has not
// suggested its own retry interval.
const DefaultReconnectDelay = 60 * time.Second

// Processor is the downstream consumer of parsed notifications.
// Implementation lives in internal/pipeline.
type Processor interface {
	Process(ctx context.Context, n domain.Notification) error
}

// Ingestor consumes the origin's event stream. Notifications are processed
// strictly one at a time: the next event is not read until Process returns,
// which gives the push path its in-order, at-most-one-concurrent guarantee.
type Ingestor struct {
	originURL  string
	creds      *credentials.Provider
	pipeline   Processor
	httpClient *http.Client

	// connectPolicy backs off connect/status/protocol failures without bound;
	// readPolicy is the constant full-jitter delay for mid-stream read errors.
	connectPolicy retry.Policy
	readPolicy    retry.Policy

	defaultDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	lastEventID    string
	reconnectDelay time.Duration
}

// New creates an Ingestor for the origin at originURL. The connect timeout is
// bounded by the transport's response header timeout; the body deliberately
// has no overall deadline since the stream is long-lived.
func New(originURL string, creds *credentials.Provider, pipeline Processor) *Ingestor {
	return &Ingestor{
		originURL: strings.TrimRight(originURL, "/"),
		creds:     creds,
		pipeline:  pipeline,
		httpClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
		},
		connectPolicy: retry.Policy{BaseDelay: time.Second, MaxDelay: 2 * time.Minute, Factor: 2.0},
		readPolicy:    retry.Policy{BaseDelay: time.Second, MaxDelay: time.Second, Factor: 1.0},
		defaultDelay:  DefaultReconnectDelay,
		sleep:         retry.Sleep,
	}
}

// Run connects, streams and reconnects until ctx is cancelled or the origin
// closes the stream cleanly. A clean close returns domain.ErrStreamClosed so
// the supervisor can decide whether to exit, restart or alert; it is never
// swallowed here. Cancellation returns ctx.Err() without reconnecting.
func (i *Ingestor) Run(ctx context.Context) error {
	connectFailures := 0

	for {
		// The reconnect delay starts at zero and afterwards tracks the
		// origin's per-event retry hint (default 60s).
		if err := i.sleep(ctx, i.reconnectDelay); err != nil {
			return err
		}

		err := i.consume(ctx)
		switch {
		case err == nil:
			log.Info().Msg("origin closed the stream cleanly, stopping ingestion")
			return domain.ErrStreamClosed

		case ctx.Err() != nil:
			log.Info().Msg("ingestor cancelled, exiting")
			return ctx.Err()

		case isReadError(err):
			connectFailures = 0
			d := i.readPolicy.Jittered(0)
			log.Error().Err(err).Dur("delay", d).Msg("stream read failed, reconnecting")
			if serr := i.sleep(ctx, d); serr != nil {
				return serr
			}

		default:
			d := i.connectPolicy.Backoff(connectFailures)
			connectFailures++
			log.Error().Err(err).Dur("delay", d).Msg("stream connect failed, backing off")
			if serr := i.sleep(ctx, d); serr != nil {
				return serr
			}
		}
	}
}

// readError marks mid-stream read failures, which reconnect with a fixed
// jittered delay instead of exponential backoff.
type readError struct{ err error }

func (e *readError) Error() string { return "stream read: " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

func isReadError(err error) bool {
	_, ok := err.(*readError)
	return ok
}

// consume opens one stream connection and processes events until it ends.
// A nil return means the origin finished the response body cleanly.
func (i *Ingestor) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.originURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}

	key, secret, err := i.creds.KeyPair()
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", key)
	req.Header.Set("X-Api-Secret", secret)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if i.lastEventID != "" {
		req.Header.Set("Last-Event-ID", i.lastEventID)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("stream content type %q", ct)
	}

	log.Info().Str("origin", i.originURL).Msg("connected to origin event stream")

	var ev event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			i.dispatch(ctx, ev)
			ev = event{}
			continue
		}
		ev.addLine(line)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &readError{err: err}
	}
	return nil
}

// dispatch applies one complete stream event: record the resumption point,
// adopt the retry hint, then hand the notification to the pipeline and wait
// for it to finish before the caller reads further.
func (i *Ingestor) dispatch(ctx context.Context, ev event) {
	if ev.empty() {
		return
	}
	if ev.id != "" {
		i.lastEventID = ev.id
	}
	if ev.retry != "" {
		if ms, err := strconv.Atoi(ev.retry); err == nil && ms >= 0 {
			i.reconnectDelay = time.Duration(ms) * time.Millisecond
		} else {
			i.reconnectDelay = i.defaultDelay
		}
	} else {
		i.reconnectDelay = i.defaultDelay
	}

	if ev.data == "" {
		return
	}

	var n domain.Notification
	if err := json.Unmarshal([]byte(ev.data), &n); err != nil {
		// Side-channel noise, not a protocol fault.
		log.Error().Err(err).Str("data", ev.data).Msg("received invalid notification")
		return
	}

	if err := i.pipeline.Process(ctx, n); err != nil {
		log.Error().Err(err).Str("id", n.ID.String()).Msg("failed to process streamed notification")
	}
}

// event accumulates the fields of one SSE event between blank lines.
type event struct {
	id    string
	retry string
	data  string
}

func (e *event) empty() bool {
	return e.id == "" && e.retry == "" && e.data == ""
}

// addLine folds one "field: value" line into the event. Comment lines
// (leading colon) and unknown fields are ignored per the SSE format.
func (e *event) addLine(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "id":
		e.id = value
	case "retry":
		e.retry = value
	case "data":
		if e.data != "" {
			e.data += "\n"
		}
		e.data += value
	}
}
