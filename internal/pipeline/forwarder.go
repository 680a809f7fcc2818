package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/domain"
	"github.com/eventqueue/agent/internal/messages"
	"github.com/eventqueue/agent/internal/retry"
)

// Forwarder delivers a stored call to its private destination URL. Connection
// failures and non-2xx responses are retried per the policy; the outcome is
// communicated only through the returned bool, the store row and a published
// StatusEvent — Forward never lets an error escape its boundary.
type Forwarder struct {
	store      domain.Store
	hub        StatusPublisher
	httpClient *http.Client
	policy     retry.Policy
}

// NewForwarder creates a Forwarder with a 30-second request timeout and the
// default three-attempt retry policy.
func NewForwarder(store domain.Store, hub StatusPublisher) *Forwarder {
	return &Forwarder{
		store:      store,
		hub:        hub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.Default,
	}
}

// Forward replays rec against its destination. On success the record is
// marked delivered and its error cleared; on exhaustion the last failure text
// is persisted on the record and a reload-hinting StatusEvent is published.
func (f *Forwarder) Forward(ctx context.Context, rec *domain.DeliveryRecord) bool {
	log.Info().Str("id", rec.ID.String()).Str("destination", rec.DestinationURL).Msg("forwarding call")

	err := f.policy.Do(ctx, func() error {
		return f.attempt(ctx, rec)
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("id", rec.ID.String()).Str("destination", rec.DestinationURL).
			Msg("could not forward call")
		if serr := f.store.MarkFailed(ctx, rec.ID, err.Error()); serr != nil {
			log.Error().Err(serr).Str("id", rec.ID.String()).Msg("could not record forward failure")
		}
		f.hub.Publish(domain.StatusEvent{
			Message:     messages.ForwardFailed(rec.ID, rec.DestinationURL),
			ReloadCalls: true,
		})
		return false
	}

	log.Info().Str("id", rec.ID.String()).Str("destination", rec.DestinationURL).Msg("done forwarding call")
	if serr := f.store.MarkDelivered(ctx, rec.ID); serr != nil {
		log.Error().Err(serr).Str("id", rec.ID.String()).Msg("could not mark call delivered")
	}
	f.hub.Publish(domain.StatusEvent{Message: messages.Forwarded(rec.ID, rec.DestinationURL)})
	return true
}

// attempt issues the HTTP request once.
func (f *Forwarder) attempt(ctx context.Context, rec *domain.DeliveryRecord) error {
	req, err := http.NewRequestWithContext(ctx, rec.Method, destinationWithQuery(rec), bytes.NewReader(rec.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range rec.Headers {
		// The Host header must be set on the request itself; Go ignores it
		// inside the header map.
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("destination responded with status %d", resp.StatusCode)
	}
	return nil
}

// destinationWithQuery appends the stored query parameters to the destination
// URL. The query string is assembled by hand: parameters are an ordered list
// and url.Values.Encode would sort keys and collapse the original order.
func destinationWithQuery(rec *domain.DeliveryRecord) string {
	if len(rec.QueryParams) == 0 {
		return rec.DestinationURL
	}
	var b strings.Builder
	for i, p := range rec.QueryParams {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key()))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value()))
	}
	sep := "?"
	if strings.Contains(rec.DestinationURL, "?") {
		sep = "&"
	}
	return rec.DestinationURL + sep + b.String()
}
