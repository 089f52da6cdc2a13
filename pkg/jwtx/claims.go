package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims. The identity fields are copied from the
// principal at issuance and never re-fetched during validation.
type Claims struct {
	jwt.RegisteredClaims

	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	// Attributes is the principal's free-form attribute map.
	Attributes map[string]string `json:"attrs,omitempty"`

	// Custom holds caller-supplied claims, see ClaimValue.
	Custom map[string]ClaimValue `json:"ext,omitempty"`
}

// NewAccessClaims builds the registered part of an access token.
func NewAccessClaims(
	subject, jti, issuer string,
	audience []string,
	now time.Time,
	ttl time.Duration,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
}

// ExpiresAtTime returns exp, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpireNoEarlierThan moves exp to the first whole second after floor when
// exp would not otherwise be later than floor.
func (c *Claims) ExpireNoEarlierThan(floor time.Time) {
	if floor.IsZero() || c.ExpiresAtTime().After(floor) {
		return
	}
	c.ExpiresAt = jwt.NewNumericDate(floor.Truncate(time.Second).Add(time.Second))
}

// Remaining is the lifetime left at now. Zero or negative means expired.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// HasRole reports whether role is present.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// HasPermission reports whether perm is present.
func (c *Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateTimes checks exp strictly at now and nbf/iat with leeway. Leeway
// never extends a token past its exp.
func (c *Claims) ValidateTimes(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrMalformed
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	if c.IssuedAt != nil && now.Before(c.IssuedAt.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
