package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

var ErrMissingSecret = errors.New("TOKEN_SECRET or TOKEN_SECRET_FILE is required for HMAC algorithms")

// InitCodec loads key material for the configured algorithm and builds the
// token codec.
//
// HMAC algorithms need a shared secret. EdDSA reads a PKCS8 key from
// TOKEN_SIGNING_KEY_FILE, or generates an ephemeral one, in which case every
// outstanding token becomes unverifiable when the process restarts.
func InitCodec(cfg Config, clock clockx.Clock, logger *slog.Logger) (*jwtx.Codec, error) {
	keys := jwtx.KeyOptions{Algorithm: cfg.Algorithm}
	keyID := ""

	switch cfg.Algorithm {
	case jwtx.AlgorithmHS256, jwtx.AlgorithmHS384, jwtx.AlgorithmHS512:
		secret, err := loadSecret(cfg)
		if err != nil {
			return nil, err
		}
		keys.Secret = secret
		keyID = cryptox.ShortFingerprint("kid:" + string(secret))

	case jwtx.AlgorithmEdDSA:
		if cfg.SigningKeyFile == "" {
			logger.Warn("no TOKEN_SIGNING_KEY_FILE, using an ephemeral EdDSA key: tokens will not survive a restart")
			break
		}
		pem, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		keys.PrivateKeyPEM = pem
		keyID = cryptox.ShortFingerprint(string(pem))
	}

	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		KeyOptions: keys,
		KeyID:      keyID,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Leeway:     cfg.ClockSkew,
		Clock:      clock,
	})
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	logger.Info("token codec ready",
		"algorithm", codec.Alg(),
		"kid", codec.KID(),
		"issuer", cfg.Issuer,
		"audience", cfg.Audience,
	)
	return codec, nil
}

func loadSecret(cfg Config) ([]byte, error) {
	if cfg.SecretFile != "" {
		raw, err := os.ReadFile(cfg.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("read secret file: %w", err)
		}
		secret := strings.TrimSpace(string(raw))
		if secret == "" {
			return nil, fmt.Errorf("secret file %q is empty: %w", cfg.SecretFile, ErrMissingSecret)
		}
		return []byte(secret), nil
	}
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	return []byte(cfg.Secret), nil
}
