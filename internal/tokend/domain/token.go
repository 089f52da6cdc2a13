package domain

import (
	"time"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

const TokenTypeBearer = "Bearer"

// TokenBundle is what issue and refresh hand back to the caller.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	ExpiresAt    time.Time
}

// SessionSnapshot is the denormalized session kept in the cache under the
// subject and under the access token's hash. It lives exactly as long as the
// access token it describes.
type SessionSnapshot struct {
	Subject   string                     `json:"sub"`
	Principal Principal                  `json:"principal"`
	Custom    map[string]jwtx.ClaimValue `json:"custom,omitempty"`
	TokenID   string                     `json:"jti"`
	TokenHash string                     `json:"token_hash"`

	// RefreshHash is the fingerprint of the refresh token bound to this
	// session. The raw refresh token is never stored.
	RefreshHash string    `json:"refresh_hash"`
	IssuedAt    time.Time `json:"iat"`
	ExpiresAt   time.Time `json:"exp"`
}
