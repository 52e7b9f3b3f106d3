package auth

import (
	"context"
	"fmt"
	"sync"
)

// StaticVerifier accepts a fixed set of tokens. It is meant for development
// and tests.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]Principal
}

// NewStaticVerifier returns a verifier that accepts the given tokens.
func NewStaticVerifier(tokens map[string]Principal) *StaticVerifier {
	v := &StaticVerifier{tokens: make(map[string]Principal, len(tokens))}
	for tok, p := range tokens {
		v.tokens[tok] = p
	}
	return v
}

// Add registers token for p.
func (v *StaticVerifier) Add(token string, p Principal) {
	v.mu.Lock()
	v.tokens[token] = p
	v.mu.Unlock()
}

// Revoke removes token.
func (v *StaticVerifier) Revoke(token string) {
	v.mu.Lock()
	delete(v.tokens, token)
	v.mu.Unlock()
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	v.mu.RLock()
	p, ok := v.tokens[token]
	v.mu.RUnlock()
	if !ok {
		return Principal{}, fmt.Errorf("%w: unknown token", ErrAuthentication)
	}
	return p, nil
}
