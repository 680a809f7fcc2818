package domain

import "errors"

var (
	// ErrConflict is returned by the store when an insert hits an id that is
	// already present in one of the partitions.
	ErrConflict = errors.New("call id already stored")

	// ErrNotFound is returned by the store when a lookup misses.
	ErrNotFound = errors.New("call not found")

	// ErrStreamClosed signals that the origin closed the event stream cleanly.
	// The ingestor hands it to its supervisor instead of reconnecting; the
	// supervisor decides whether to exit, restart or alert.
	ErrStreamClosed = errors.New("origin closed the event stream")
)

// DecryptError wraps any failure to turn a Notification into a DecodedCall:
// bad OAEP padding, a failed GCM integrity check, or a plaintext that is not
// a valid call description. The pipeline reacts by storing the raw envelope.
type DecryptError struct {
	Err error
}

func (e *DecryptError) Error() string { return "decrypt notification: " + e.Err.Error() }

func (e *DecryptError) Unwrap() error { return e.Err }

// IsDecryptError reports whether err is a DecryptError anywhere in its chain.
func IsDecryptError(err error) bool {
	var de *DecryptError
	return errors.As(err, &de)
}
