package presence

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("presence: store is closed")

// Store persists expiring claim records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save writes data under key. It expires after ttl.
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Load returns the data under key, or (nil, nil) if it does not exist
	// or has expired.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Touch extends the expiry of key to ttl from now. It reports whether
	// the key existed.
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases the store's resources.
	Close() error
}
