package jwtx

import (
	"crypto/ed25519"
	"fmt"

	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// newEdDSAKeys loads an Ed25519 key from PKCS8 PEM, or generates one when
// pemKey is empty.
func newEdDSAKeys(pemKey []byte) (keyMaterial, error) {
	if len(pemKey) == 0 {
		generated, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return keyMaterial{}, err
		}
		pemKey = generated
	}

	key, err := cryptox.ParseEd25519PrivateKey(pemKey)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("jwtx: EdDSA key: %w", err)
	}

	return keyMaterial{
		method:    jwt.SigningMethodEdDSA,
		signKey:   key,
		verifyKey: key.Public().(ed25519.PublicKey),
	}, nil
}
