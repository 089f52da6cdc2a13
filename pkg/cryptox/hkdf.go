package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var ErrEmptySecret = errors.New("cryptox: secret is empty")

// StretchSecret derives a key of size bytes from secret with HKDF-SHA256.
// Secrets already at least size bytes long are returned unchanged so that
// tokens signed with a full-strength secret stay verifiable by other
// services holding the same raw secret.
func StretchSecret(secret []byte, size int, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if len(secret) >= size {
		out := make([]byte, len(secret))
		copy(out, secret)
		return out, nil
	}

	out := make([]byte, size)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("cryptox: hkdf: %w", err)
	}
	return out, nil
}
