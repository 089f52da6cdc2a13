package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway tolerates small clock differences on nbf and iat.
const DefaultLeeway = 60 * time.Second

// CodecOptions configures a Codec.
type CodecOptions struct {
	KeyOptions

	// KeyID is written to the "kid" header. Optional.
	KeyID string

	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain one of. Empty means "don't care".
	Audience []string

	// Leeway applies to nbf and iat only. exp is always checked strictly.
	Leeway time.Duration

	Clock clockx.Clock
}

// Codec signs and verifies access tokens and mints opaque refresh tokens.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	keys     keyMaterial
	kid      string
	issuer   string
	audience []string
	leeway   time.Duration
	clock    clockx.Clock
	parser   *jwt.Parser
}

var (
	_ Signer   = (*Codec)(nil)
	_ Verifier = (*Codec)(nil)
)

func NewCodec(opts CodecOptions) (*Codec, error) {
	keys, err := newKeyMaterial(opts.KeyOptions)
	if err != nil {
		return nil, err
	}

	leeway := opts.Leeway
	if leeway < 0 {
		return nil, errors.New("jwtx: leeway must not be negative")
	}

	clock := clockx.OrReal(opts.Clock)

	// exp is re-checked strictly in Verify; the parser's leeway only keeps
	// it from rejecting tokens whose nbf/iat are slightly in the future.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(clock.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	return &Codec{
		keys:     keys,
		kid:      opts.KeyID,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   leeway,
		clock:    clock,
		parser:   parser,
	}, nil
}

func (c *Codec) Alg() string { return c.keys.method.Alg() }
func (c *Codec) KID() string { return c.kid }

// Sign turns claims into a signed compact token.
func (c *Codec) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(c.keys.method, claims)
	if c.kid != "" {
		t.Header["kid"] = c.kid
	}

	s, err := t.SignedString(c.keys.signKey)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return s, nil
}

// Verify checks signature, structure, issuer, audience and lifetime. The
// returned error is one of ErrMalformed, ErrInvalidSig, ErrIssuer,
// ErrAudience, ErrExpired or ErrNotYetValid.
func (c *Codec) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.keys.verifyKey, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	if err := claims.ValidateIssuer(c.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(c.audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateTimes(c.clock.Now(), c.leeway); err != nil {
		return Claims{}, err
	}

	return claims, nil
}

// ParseUnverified decodes claims without checking the signature or times.
// Only use the result for decisions that are safe on forged input, such as
// bounding how long a blacklist entry must live.
func (c *Codec) ParseUnverified(token string) (Claims, error) {
	return ParseUnverified(token)
}

// ParseUnverified decodes any compact token's claims without verification.
func ParseUnverified(token string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

// NewRefreshToken returns an opaque 256-bit refresh token.
func NewRefreshToken() (string, error) {
	return cryptox.GenerateToken(cryptox.TokenSize256)
}
