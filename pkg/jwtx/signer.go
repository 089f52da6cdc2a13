package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"
	AlgorithmEdDSA = "EdDSA"
)

// Signer is anything that can turn Claims into a compact signed token.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// keyMaterial pairs a signing method with the keys it signs and verifies with.
type keyMaterial struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// KeyOptions selects and configures the signing keys.
type KeyOptions struct {
	Algorithm string

	// Secret is the shared HMAC secret for HS* algorithms.
	Secret []byte

	// PrivateKeyPEM is a PKCS8 Ed25519 key for EdDSA. Empty generates an
	// ephemeral key, so tokens do not survive a restart.
	PrivateKeyPEM []byte
}

func newKeyMaterial(opts KeyOptions) (keyMaterial, error) {
	switch opts.Algorithm {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		return newHMACKeys(opts.Algorithm, opts.Secret)
	case AlgorithmEdDSA:
		return newEdDSAKeys(opts.PrivateKeyPEM)
	default:
		return keyMaterial{}, fmt.Errorf("jwtx: unsupported algorithm %q (supported: HS256, HS384, HS512, EdDSA)", opts.Algorithm)
	}
}
