// Package pipeline orchestrates the life of a notification: dedup check,
// decrypt-or-fallback persistence, origin acknowledge, forward, local status
// fanout. One Process call drives a notification to a terminal state; nothing
// is revisited automatically afterwards. Both the push path (stream ingestor)
// and the pull path (reconciliation sweep) funnel through Process, making the
// store's existence check the sole correctness boundary between them.
package pipeline

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/domain"
	"github.com/eventqueue/agent/internal/envelope"
	"github.com/eventqueue/agent/internal/messages"
)

// StatusPublisher is the interface for pushing status updates to local
// observers. Implementation lives in internal/fanout.
type StatusPublisher interface {
	Publish(ev domain.StatusEvent)
}

// OriginClient is the subset of the origin REST client the pipeline uses.
type OriginClient interface {
	// Acknowledge reports success as a bool; exhausted retries are non-fatal.
	Acknowledge(ctx context.Context, id uuid.UUID) bool
	// ListPending fetches the origin's current backlog.
	ListPending(ctx context.Context) ([]domain.Notification, error)
}

// Pipeline processes notifications. It holds no state of its own across
// calls; everything it knows it reads from and writes to the store.
type Pipeline struct {
	store     domain.Store
	origin    OriginClient
	forwarder *Forwarder
	hub       StatusPublisher
	key       *rsa.PrivateKey
}

// New creates a Pipeline decrypting with key.
func New(store domain.Store, origin OriginClient, forwarder *Forwarder, hub StatusPublisher, key *rsa.PrivateKey) *Pipeline {
	return &Pipeline{store: store, origin: origin, forwarder: forwarder, hub: hub, key: key}
}

// Process drives one notification to a terminal state:
//
//	RECEIVED → DUPLICATE (ack only)
//	RECEIVED → DECRYPT-FAILED (raw fallback stored)
//	RECEIVED → DECRYPTED → ACKNOWLEDGED(attempted) → FORWARDED(attempted)
//
// Only store failures are returned; decryption, acknowledge and forward
// outcomes are absorbed here and surfaced as StatusEvents.
func (p *Pipeline) Process(ctx context.Context, n domain.Notification) error {
	exists, err := p.store.Exists(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("dedup check for %s: %w", n.ID, err)
	}
	if exists {
		p.onDuplicate(ctx, n)
		return nil
	}

	call, err := envelope.Decode(n, p.key)
	if err != nil {
		// Decryption is attempted exactly once; the envelope is kept raw and
		// never re-decrypted automatically.
		log.Error().Err(err).Str("id", n.ID.String()).Msg("could not decrypt call, saving it encrypted")
		p.hub.Publish(domain.StatusEvent{Message: messages.DecryptFailed(n.ID, err)})
		if serr := p.store.SaveRaw(ctx, n); serr != nil {
			return fmt.Errorf("save raw call %s: %w", n.ID, serr)
		}
		return nil
	}

	if err := p.store.SaveDelivery(ctx, n, call); err != nil {
		return fmt.Errorf("save delivery %s: %w", n.ID, err)
	}

	if !p.origin.Acknowledge(ctx, n.ID) {
		log.Error().Str("id", n.ID.String()).Msg("could not delete call from origin")
		p.hub.Publish(domain.StatusEvent{Message: messages.AckFailed(n.ID)})
	}

	p.forwarder.Forward(ctx, &domain.DeliveryRecord{
		ID:             n.ID,
		Created:        n.Created,
		DestinationURL: n.DestinationURL,
		Method:         call.Method,
		Headers:        call.Headers,
		QueryParams:    call.QueryParams,
		Body:           call.Body,
	})
	return nil
}

// onDuplicate handles a redelivered id: acknowledge again so the origin stops
// tracking it, but never decrypt, persist or forward a second time.
func (p *Pipeline) onDuplicate(ctx context.Context, n domain.Notification) {
	log.Info().Str("id", n.ID.String()).Msg("received duplicate, deleting from origin")
	p.hub.Publish(domain.StatusEvent{Message: messages.Duplicate(n.ID)})
	if !p.origin.Acknowledge(ctx, n.ID) {
		log.Error().Str("id", n.ID.String()).Msg("could not delete duplicate from origin")
		p.hub.Publish(domain.StatusEvent{Message: messages.AckFailed(n.ID)})
	}
}

// Reconcile is the pull-based catch-up sweep: it replays the origin's current
// backlog through Process in the order received. Dedup against anything the
// stream already delivered rests entirely on the store's existence check.
func (p *Pipeline) Reconcile(ctx context.Context) error {
	backlog, err := p.origin.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, n := range backlog {
		if err := p.Process(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
