package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-1234"

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(Config{Algorithm: "HS256", SigningKey: testSecret}, opts...)
	require.NoError(t, err)
	return c
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestNewCodec(t *testing.T) {
	t.Run("empty algorithm defaults to HS256", func(t *testing.T) {
		c, err := NewCodec(Config{SigningKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "HS256", c.Algorithm())
	})

	t.Run("missing secret fails fast", func(t *testing.T) {
		_, err := NewCodec(Config{Algorithm: "HS256"})
		assert.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("RS256 without keys", func(t *testing.T) {
		_, err := NewCodec(Config{Algorithm: "RS256"})
		assert.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("RS256 with unreadable key path", func(t *testing.T) {
		_, err := NewCodec(Config{Algorithm: "RS256", PrivateKey: "/nonexistent/private.pem"})
		assert.Error(t, err)
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		_, err := NewCodec(Config{Algorithm: "ES256", SigningKey: "k"})
		assert.ErrorIs(t, err, ErrInvalidAlgorithm)
	})
}

func TestCodec_IssueVerifyRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	token, err := c.Issue(Subject{UserID: "user_123", Name: "Alice"})
	require.NoError(t, err)

	got, err := c.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", got.UserID)
	assert.Equal(t, "Alice", got.Name)
}

func TestCodec_IssuedClaims(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestCodec(t, WithClock(fixedClock(now)))

	token, err := c.Issue(Subject{UserID: "user_1", Name: "Bob"})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	assert.Equal(t, Issuer, claims["iss"])
	assert.Equal(t, "user_1", claims["uid"])
	assert.Equal(t, "Bob", claims["name"])
	assert.NotEmpty(t, claims["jti"])
	assert.EqualValues(t, now.Add(2*time.Hour).Unix(), claims["exp"])
	assert.EqualValues(t, now.Unix(), claims["iat"])
}

func TestCodec_VerifyRejects(t *testing.T) {
	issuedAt := time.Now()
	c := newTestCodec(t, WithClock(fixedClock(issuedAt)))
	token, err := c.Issue(Subject{UserID: "user_1", Name: "Bob"})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := newTestCodec(t, WithClock(fixedClock(issuedAt.Add(Lifetime+time.Second))))
		_, err := later.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewCodec(Config{SigningKey: "another-secret"})
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserID: "user_1",
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = newTestCodec(t).Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("missing expiry", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
			UserID:           "user_1",
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = newTestCodec(t).Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("unsigned token", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserID: "user_1",
		}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = newTestCodec(t).Verify(unsigned)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := newTestCodec(t).Verify("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}

func TestCodec_RemainingValidity(t *testing.T) {
	issuedAt := time.Now()
	c := newTestCodec(t, WithClock(fixedClock(issuedAt)))
	token, err := c.Issue(Subject{UserID: "user_1", Name: "Bob"})
	require.NoError(t, err)

	t.Run("fresh token", func(t *testing.T) {
		got := c.RemainingValidity(token)
		require.NotNil(t, got)
		assert.EqualValues(t, 7200, *got)
	})

	t.Run("after an hour", func(t *testing.T) {
		later := newTestCodec(t, WithClock(fixedClock(issuedAt.Add(time.Hour))))
		got := later.RemainingValidity(token)
		require.NotNil(t, got)
		assert.EqualValues(t, 3600, *got)
	})

	t.Run("expired token goes negative", func(t *testing.T) {
		later := newTestCodec(t, WithClock(fixedClock(issuedAt.Add(3*time.Hour))))
		got := later.RemainingValidity(token)
		require.NotNil(t, got)
		assert.Less(t, *got, int64(0))
	})

	t.Run("signature is not checked", func(t *testing.T) {
		other, err := NewCodec(Config{SigningKey: "different"}, WithClock(fixedClock(issuedAt)))
		require.NoError(t, err)
		assert.NotNil(t, other.RemainingValidity(token))
	})

	t.Run("no exp claim", func(t *testing.T) {
		noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"uid": "u"}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		assert.Nil(t, c.RemainingValidity(noExp))
	})

	t.Run("undecodable", func(t *testing.T) {
		assert.Nil(t, c.RemainingValidity(""))
		assert.Nil(t, c.RemainingValidity("a.b.c"))
		assert.Nil(t, c.RemainingValidity("garbage"))
	})
}

func TestCodec_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	signer, err := NewCodec(Config{Algorithm: "RS256", PrivateKey: string(privPEM)})
	require.NoError(t, err)
	assert.Equal(t, "RS256", signer.Algorithm())

	token, err := signer.Issue(Subject{UserID: "user_rs", Name: "Rita"})
	require.NoError(t, err)

	t.Run("verify-only codec from public key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "public.pem")
		require.NoError(t, os.WriteFile(path, pubPEM, 0o600))

		verifier, err := NewCodec(Config{Algorithm: "RS256", PublicKey: path})
		require.NoError(t, err)

		got, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user_rs", got.UserID)

		_, err = verifier.Issue(Subject{UserID: "x"})
		assert.ErrorIs(t, err, ErrSigningDisabled)
	})

	t.Run("HS256 codec rejects RS256 token", func(t *testing.T) {
		_, err := newTestCodec(t).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}
