package domain

import "github.com/aussiebroadwan/tokend/pkg/jwtx"

// Reason explains why a token was rejected.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonEmpty        Reason = "empty"
	ReasonMalformed    Reason = "malformed"
	ReasonBadSignature Reason = "bad_signature"
	ReasonExpired      Reason = "expired"
	ReasonBlacklisted  Reason = "blacklisted"

	// ReasonUnavailable means the token could not be checked because token
	// state was unreachable. Callers must treat it as a rejection.
	ReasonUnavailable Reason = "unavailable"
)

// ValidationResult is the outcome of validating a token. Claims is only set
// when Valid is true.
type ValidationResult struct {
	Valid  bool
	Reason Reason
	Claims jwtx.Claims
}

func Valid(c jwtx.Claims) ValidationResult {
	return ValidationResult{Valid: true, Claims: c}
}

func Invalid(r Reason) ValidationResult {
	return ValidationResult{Reason: r}
}
