package auth

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrAuthentication is wrapped by every credential rejection.
var ErrAuthentication = errors.New("auth: authentication failed")

// Principal represents the authenticated identity.
// Intentionally minimal. There is no catch-all claims map.
type Principal struct {
	// User identity
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// Authorization
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`

	// Groups are the broadcast groups the session joins at IDENTIFY.
	Groups []string `json:"groups,omitempty"`

	// Expiration
	ExpiresAtUnixMs int64 `json:"expires_at_unix_ms,omitempty"`
}

// Expired reports whether the principal has a hard expiry before now.
func (p Principal) Expired(now time.Time) bool {
	return p.ExpiresAtUnixMs > 0 && now.UnixMilli() >= p.ExpiresAtUnixMs
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Same reports whether p and other identify the same user.
func (p Principal) Same(other Principal) bool {
	return p.ID == other.ID && p.TenantID == other.TenantID
}

// Verifier turns a credential into a Principal.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (Principal, error)

// Verify calls f(ctx, token).
func (f VerifierFunc) Verify(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}
