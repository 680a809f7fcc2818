// Package messages builds the human-readable status texts published to local
// observers. Keeping them in one place keeps wording consistent between the
// pipeline, the forwarder and the tests.
package messages

import (
	"fmt"

	"github.com/google/uuid"
)

// ─── Pipeline texts ──────────────────────────────────────────────────────────

func Duplicate(id uuid.UUID) string {
	return fmt.Sprintf("Received duplicate for %s, deleting from server", id)
}

func AckFailed(id uuid.UUID) string {
	return fmt.Sprintf("Could not delete %s from server, will retry when I see this ID again", id)
}

func DecryptFailed(id uuid.UUID, err error) string {
	return fmt.Sprintf("Could not decrypt call %s, saving it encrypted: %v", id, err)
}

// ─── Forwarder texts ─────────────────────────────────────────────────────────

func Forwarded(id uuid.UUID, destination string) string {
	return fmt.Sprintf("Forwarded %s to %s", id, destination)
}

func ForwardFailed(id uuid.UUID, destination string) string {
	return fmt.Sprintf("Could not forward call %s to %s", id, destination)
}
