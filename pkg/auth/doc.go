// Package auth verifies the credentials clients present in IDENTIFY.
//
// The gateway does not issue or store credentials. It consumes a Verifier
// that turns an opaque token into a Principal:
//
//	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: secret})
//	principal, err := verifier.Verify(ctx, token)
//	if errors.Is(err, auth.ErrAuthentication) {
//	    // reject the session
//	}
//
// Every rejection wraps ErrAuthentication. Any other error (a context
// cancellation, for example) is also treated as a failed IDENTIFY by the
// gateway, but is logged as a server-side fault.
//
// JWTIssuer mints tokens for development and tests. Production deployments
// are expected to receive tokens from their own identity provider.
package auth
