package jwtx

import (
	"fmt"

	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// newHMACKeys builds symmetric key material. Secrets shorter than the hash
// output are stretched with HKDF so HS384/HS512 never run on a weak key.
func newHMACKeys(alg string, secret []byte) (keyMaterial, error) {
	var (
		method *jwt.SigningMethodHMAC
		size   int
	)
	switch alg {
	case AlgorithmHS256:
		method, size = jwt.SigningMethodHS256, 32
	case AlgorithmHS384:
		method, size = jwt.SigningMethodHS384, 48
	case AlgorithmHS512:
		method, size = jwt.SigningMethodHS512, 64
	default:
		return keyMaterial{}, fmt.Errorf("jwtx: %q is not an HMAC algorithm", alg)
	}

	key, err := cryptox.StretchSecret(secret, size, "tokend-"+alg)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("jwtx: %s secret: %w", alg, err)
	}

	return keyMaterial{method: method, signKey: key, verifyKey: key}, nil
}
