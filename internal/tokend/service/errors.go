package service

import "errors"

var (
	// ErrInvalidRefresh covers unknown, expired and orphaned refresh tokens.
	ErrInvalidRefresh = errors.New("invalid_refresh_token")

	ErrInvalidPrincipal = errors.New("invalid_principal")

	// ErrTokenRejected is returned by Authenticate for any invalid token.
	ErrTokenRejected = errors.New("token_rejected")
)
