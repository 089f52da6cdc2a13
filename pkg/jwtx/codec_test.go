package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer = "tokend-test"
	testSecret = "a-test-secret-that-is-long-enough!"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newCodec(t *testing.T, clock clockx.Clock, opts ...func(*jwtx.CodecOptions)) *jwtx.Codec {
	t.Helper()
	o := jwtx.CodecOptions{
		KeyOptions: jwtx.KeyOptions{Algorithm: jwtx.AlgorithmHS256, Secret: []byte(testSecret)},
		Issuer:     testIssuer,
		Audience:   []string{"api"},
		Leeway:     jwtx.DefaultLeeway,
		Clock:      clock,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := jwtx.NewCodec(o)
	require.NoError(t, err)
	return c
}

func sampleClaims(now time.Time, ttl time.Duration) jwtx.Claims {
	c := jwtx.NewAccessClaims("user-1", "jti-1", testIssuer, []string{"api"}, now, ttl)
	c.Username = "alice"
	c.Roles = []string{"admin"}
	c.Permissions = []string{"users:read", "tokens:revoke"}
	c.Attributes = map[string]string{"department": "finance"}
	c.Custom = map[string]jwtx.ClaimValue{"tenant": jwtx.StringClaim("acme")}
	return c
}

func TestSignAndVerify(t *testing.T) {
	for _, alg := range []string{jwtx.AlgorithmHS256, jwtx.AlgorithmHS384, jwtx.AlgorithmHS512, jwtx.AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			clock := clockx.NewFake(testStart)
			codec := newCodec(t, clock, func(o *jwtx.CodecOptions) {
				o.Algorithm = alg
				o.KeyID = "k1"
			})
			require.Equal(t, alg, codec.Alg())

			token, err := codec.Sign(sampleClaims(clock.Now(), time.Hour))
			require.NoError(t, err)
			require.Equal(t, 2, strings.Count(token, "."))

			got, err := codec.Verify(token)
			require.NoError(t, err)
			require.Equal(t, "user-1", got.Subject)
			require.Equal(t, "alice", got.Username)
			require.Equal(t, []string{"admin"}, got.Roles)
			require.ElementsMatch(t, []string{"users:read", "tokens:revoke"}, got.Permissions)
			require.Equal(t, "finance", got.Attributes["department"])
			require.True(t, jwtx.StringClaim("acme").Equal(got.Custom["tenant"]))
		})
	}
}

func TestVerifyFailures(t *testing.T) {
	clock := clockx.NewFake(testStart)
	codec := newCodec(t, clock)

	token, err := codec.Sign(sampleClaims(clock.Now(), 10*time.Second))
	require.NoError(t, err)

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := codec.Verify("not-a-token")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("tampered payload fails signature", func(t *testing.T) {
		parts := strings.Split(token, ".")
		other, err := codec.Sign(sampleClaims(clock.Now().Add(time.Second), time.Hour))
		require.NoError(t, err)
		forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

		_, err = codec.Verify(forged)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("other secret fails signature", func(t *testing.T) {
		other := newCodec(t, clock, func(o *jwtx.CodecOptions) { o.Secret = []byte("different-secret-different-secret") })
		_, err := other.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("algorithm mismatch fails signature", func(t *testing.T) {
		eddsa := newCodec(t, clock, func(o *jwtx.CodecOptions) { o.Algorithm = jwtx.AlgorithmEdDSA })
		_, err := eddsa.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := newCodec(t, clock, func(o *jwtx.CodecOptions) { o.Issuer = "elsewhere" })
		_, err := other.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := newCodec(t, clock, func(o *jwtx.CodecOptions) { o.Audience = []string{"billing"} })
		_, err := other.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrAudience)
	})

	t.Run("expired at exp even inside leeway", func(t *testing.T) {
		late := clockx.NewFake(testStart.Add(10 * time.Second))
		_, err := newCodec(t, late).Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("expired well past leeway", func(t *testing.T) {
		late := clockx.NewFake(testStart.Add(time.Hour))
		_, err := newCodec(t, late).Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("issued in the future beyond leeway", func(t *testing.T) {
		early := clockx.NewFake(testStart.Add(-5 * time.Minute))
		_, err := newCodec(t, early).Verify(token)
		require.ErrorIs(t, err, jwtx.ErrNotYetValid)
	})

	t.Run("issued slightly in the future within leeway", func(t *testing.T) {
		early := clockx.NewFake(testStart.Add(-30 * time.Second))
		_, err := newCodec(t, early).Verify(token)
		require.NoError(t, err)
	})
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	clock := clockx.NewFake(testStart)
	codec := newCodec(t, clock)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, sampleClaims(clock.Now(), time.Hour))
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}

func TestParseUnverified(t *testing.T) {
	clock := clockx.NewFake(testStart)
	codec := newCodec(t, clock)

	token, err := codec.Sign(sampleClaims(clock.Now(), time.Minute))
	require.NoError(t, err)

	// Works even for a verifier that would reject the signature.
	other := newCodec(t, clock, func(o *jwtx.CodecOptions) { o.Secret = []byte("different-secret-different-secret") })
	claims, err := other.ParseUnverified(token)
	require.NoError(t, err)
	require.True(t, testStart.Add(time.Minute).Equal(claims.ExpiresAtTime()))

	_, err = jwtx.ParseUnverified("garbage")
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}

func TestNewCodecRejectsBadConfig(t *testing.T) {
	_, err := jwtx.NewCodec(jwtx.CodecOptions{KeyOptions: jwtx.KeyOptions{Algorithm: "RS256"}})
	require.Error(t, err)

	_, err = jwtx.NewCodec(jwtx.CodecOptions{KeyOptions: jwtx.KeyOptions{Algorithm: jwtx.AlgorithmHS256}})
	require.ErrorIs(t, err, cryptox.ErrEmptySecret)

	_, err = jwtx.NewCodec(jwtx.CodecOptions{
		KeyOptions: jwtx.KeyOptions{Algorithm: jwtx.AlgorithmEdDSA, PrivateKeyPEM: []byte("bad")},
	})
	require.Error(t, err)
}

func TestNewRefreshTokenIsOpaque(t *testing.T) {
	a, err := jwtx.NewRefreshToken()
	require.NoError(t, err)
	b, err := jwtx.NewRefreshToken()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotContains(t, a, ".")
	require.Len(t, a, 43)
}
