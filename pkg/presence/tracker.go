package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrNotClaimed is returned by Refresh for a session without a live claim.
var ErrNotClaimed = errors.New("presence: session not claimed")

// DefaultKeyPrefix prefixes every claim key.
const DefaultKeyPrefix = "gateway:presence:"

// Claim is the record stored for a session.
type Claim struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Instance  string    `json:"instance"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// Tracker maintains session claims in a Store.
type Tracker struct {
	store    Store
	ttl      time.Duration
	prefix   string
	instance string
	logger   *slog.Logger
	now      func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTTL sets how long a claim lives without a refresh. It should cover
// the heartbeat deadline plus the resume window. Default: 3 minutes.
func WithTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the key prefix. Default: DefaultKeyPrefix.
func WithKeyPrefix(prefix string) TrackerOption {
	return func(t *Tracker) {
		t.prefix = prefix
	}
}

// WithInstance sets the instance name recorded in claims.
// Default: hostname plus a random suffix.
func WithInstance(name string) TrackerOption {
	return func(t *Tracker) {
		if name != "" {
			t.instance = name
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a tracker on store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:    store,
		ttl:      3 * time.Minute,
		prefix:   DefaultKeyPrefix,
		instance: defaultInstance(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "presence", "instance", t.instance)
	return t
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Instance returns the name this tracker records in claims.
func (t *Tracker) Instance() string {
	return t.instance
}

func (t *Tracker) key(sessionID string) string {
	return t.prefix + sessionID
}

// Claim records that this instance holds sessionID.
func (t *Tracker) Claim(ctx context.Context, sessionID, userID string) error {
	data, err := json.Marshal(Claim{
		SessionID: sessionID,
		UserID:    userID,
		Instance:  t.instance,
		ClaimedAt: t.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := t.store.Save(ctx, t.key(sessionID), data, t.ttl); err != nil {
		return fmt.Errorf("presence: claim %s: %w", sessionID, err)
	}
	return nil
}

// Refresh extends the claim on sessionID.
func (t *Tracker) Refresh(ctx context.Context, sessionID string) error {
	ok, err := t.store.Touch(ctx, t.key(sessionID), t.ttl)
	if err != nil {
		return fmt.Errorf("presence: refresh %s: %w", sessionID, err)
	}
	if !ok {
		return ErrNotClaimed
	}
	return nil
}

// Release deletes the claim on sessionID.
func (t *Tracker) Release(ctx context.Context, sessionID string) error {
	if err := t.store.Delete(ctx, t.key(sessionID)); err != nil {
		return fmt.Errorf("presence: release %s: %w", sessionID, err)
	}
	return nil
}

// Lookup returns the claim on sessionID.
func (t *Tracker) Lookup(ctx context.Context, sessionID string) (Claim, bool, error) {
	data, err := t.store.Load(ctx, t.key(sessionID))
	if err != nil || data == nil {
		return Claim{}, false, err
	}
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return Claim{}, false, fmt.Errorf("presence: decode claim %s: %w", sessionID, err)
	}
	return c, true, nil
}

// Valid reports whether sessionID still has a claim. A store failure
// counts as valid so an unreachable store does not block RESUME.
func (t *Tracker) Valid(ctx context.Context, sessionID string) bool {
	_, ok, err := t.Lookup(ctx, sessionID)
	if err != nil {
		t.logger.Warn("presence lookup failed", "session_id", sessionID, "error", err)
		return true
	}
	return ok
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}
