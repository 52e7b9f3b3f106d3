package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signing algorithms supported by JWTConfig.
const (
	AlgHS256 = "HS256"
	AlgEdDSA = "EdDSA"
)

// JWTConfig configures JWT verification and issuance.
type JWTConfig struct {
	// Secret is the HMAC key for HS256, or the seed material an Ed25519
	// key pair is derived from for EdDSA.
	Secret string

	// Algorithm is AlgHS256 or AlgEdDSA.
	// Default: HS256
	Algorithm string

	// Issuer, when set, must match the "iss" claim.
	Issuer string

	// Audience, when set, must be present in the "aud" claim.
	Audience string

	// Leeway tolerates clock skew on exp/nbf.
	// Default: 0
	Leeway time.Duration
}

// Claims is the JWT payload understood by the gateway. The subject is the
// principal ID.
type Claims struct {
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

type keys struct {
	method jwt.SigningMethod
	sign   any
	verify any
}

func deriveKeys(cfg JWTConfig) (keys, error) {
	if cfg.Secret == "" {
		return keys{}, errors.New("auth: jwt secret is required")
	}
	switch cfg.Algorithm {
	case "", AlgHS256:
		return keys{method: jwt.SigningMethodHS256, sign: []byte(cfg.Secret), verify: []byte(cfg.Secret)}, nil
	case AlgEdDSA:
		seed := sha256.Sum256([]byte(cfg.Secret))
		priv := ed25519.NewKeyFromSeed(seed[:])
		return keys{method: jwt.SigningMethodEdDSA, sign: priv, verify: priv.Public()}, nil
	default:
		return keys{}, fmt.Errorf("auth: unsupported jwt algorithm %q", cfg.Algorithm)
	}
}

// JWTVerifier verifies signed JWTs.
type JWTVerifier struct {
	keys   keys
	parser *jwt.Parser
}

// NewJWTVerifier returns a verifier for cfg.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	k, err := deriveKeys(cfg)
	if err != nil {
		return nil, err
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{k.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTVerifier{keys: k, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if token == "" {
		return Principal{}, fmt.Errorf("%w: empty token", ErrAuthentication)
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.keys.verify, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrAuthentication)
	}

	p := Principal{
		ID:       claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Roles:    claims.Roles,
		TenantID: claims.TenantID,
		Groups:   claims.Groups,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAtUnixMs = claims.ExpiresAt.UnixMilli()
	}
	return p, nil
}

// JWTIssuer mints tokens that a JWTVerifier with the same config accepts.
type JWTIssuer struct {
	keys keys
	cfg  JWTConfig
	now  func() time.Time
}

// NewJWTIssuer returns an issuer for cfg.
func NewJWTIssuer(cfg JWTConfig) (*JWTIssuer, error) {
	k, err := deriveKeys(cfg)
	if err != nil {
		return nil, err
	}
	return &JWTIssuer{keys: k, cfg: cfg, now: time.Now}, nil
}

// Issue signs a token for p valid for ttl.
func (i *JWTIssuer) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("auth: principal id is required")
	}
	now := i.now()
	claims := Claims{
		Name:     p.Name,
		Email:    p.Email,
		Roles:    p.Roles,
		TenantID: p.TenantID,
		Groups:   p.Groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if i.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}
	return jwt.NewWithClaims(i.keys.method, claims).SignedString(i.keys.sign)
}
