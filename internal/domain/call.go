package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification is the encrypted envelope the origin server emits for one
// pending webhook delivery. The id doubles as the idempotency key; the three
// secrets are independently RSA-encrypted and recover the AES key, IV and
// GCM tag that open Ciphertext. Immutable once received.
type Notification struct {
	ID             uuid.UUID `json:"id"`
	DestinationURL string    `json:"destination_url"`
	Ciphertext     string    `json:"ciphertext"`
	EncKey         string    `json:"enc_key"`
	EncIV          string    `json:"enc_iv"`
	EncTag         string    `json:"enc_tag"`
	Created        time.Time `json:"created"`
}

// QueryParam is a single key/value pair. Query parameters are kept as an
// ordered list rather than a map so repeated keys survive the round trip.
type QueryParam [2]string

// Key returns the parameter name.
func (q QueryParam) Key() string { return q[0] }

// Value returns the parameter value.
func (q QueryParam) Value() string { return q[1] }

// DecodedCall is the plain HTTP call description recovered by decrypting a
// Notification. It is derived exactly once, at first receipt, and never
// persisted independently of its owning notification id.
type DecodedCall struct {
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	QueryParams []QueryParam      `json:"query_params"`
	Body        []byte            `json:"body"`
}

// DeliveryRecord is the persisted row for a successfully decrypted
// notification. Delivered is monotonic: once true it never reverts.
// Error holds the last forwarding failure and is cleared on success.
type DeliveryRecord struct {
	ID             uuid.UUID         `json:"id"`
	Delivered      bool              `json:"delivered"`
	Error          string            `json:"error,omitempty"`
	Created        time.Time         `json:"created"`
	DestinationURL string            `json:"destination_url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	QueryParams    []QueryParam      `json:"query_params"`
	Body           []byte            `json:"body"`
}

// RawRecord is the persisted row for a notification that failed decryption.
// All encrypted fields are stored byte-identical to the received envelope so
// the call can be inspected or retried manually with the right key material.
type RawRecord struct {
	ID             uuid.UUID `json:"id"`
	DestinationURL string    `json:"destination_url"`
	Ciphertext     string    `json:"ciphertext"`
	EncKey         string    `json:"enc_key"`
	EncIV          string    `json:"enc_iv"`
	EncTag         string    `json:"enc_tag"`
	Created        time.Time `json:"created"`
}

// PendingSummary is the row shape returned by the local listing surface:
// one entry per undelivered record from either partition.
type PendingSummary struct {
	ID             uuid.UUID `json:"id"`
	DestinationURL string    `json:"destination_url"`
	Created        time.Time `json:"created"`
	Encrypted      bool      `json:"encrypted"`
}

// StatusEvent is an ephemeral human-readable status update pushed to local
// observers (the UI). ReloadCalls hints that the observer should refresh its
// view of stored records. Never persisted.
type StatusEvent struct {
	Message     string `json:"message"`
	ReloadCalls bool   `json:"reload_calls"`
}
