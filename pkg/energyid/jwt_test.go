package energyid

import (
	"encoding/base64"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return s
}

func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestDecodeExpiry(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		exp, err := DecodeExpiry(signedToken(t, jwt.MapClaims{"exp": 1893456000, "sub": "twin"}))
		require.NoError(t, err)
		assert.Equal(t, int64(1893456000), exp)
	})

	t.Run("Bearer Prefix", func(t *testing.T) {
		exp, err := DecodeExpiry("Bearer " + signedToken(t, jwt.MapClaims{"exp": 1700000000}))
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), exp)
	})

	t.Run("Unknown Algorithm", func(t *testing.T) {
		tok := segment(`{"alg":"EdDSA-custom","typ":"JWT"}`) + "." + segment(`{"exp":1700000123}`) + ".c2ln"
		exp, err := DecodeExpiry(tok)
		require.NoError(t, err)
		assert.Equal(t, int64(1700000123), exp)
	})

	t.Run("Signature Not Verified", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"exp": 1700000000})
		tampered := tok[:len(tok)-4] + "AAAA"
		exp, err := DecodeExpiry(tampered)
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), exp)
	})

	invalid := map[string]string{
		"empty":          "",
		"bearer only":    "Bearer ",
		"one segment":    "abc",
		"two segments":   "abc.def",
		"four segments":  "a.b.c.d",
		"missing exp":    signedToken(t, jwt.MapClaims{"sub": "twin"}),
		"zero exp":       signedToken(t, jwt.MapClaims{"exp": 0}),
		"string exp":     signedToken(t, jwt.MapClaims{"exp": "tomorrow"}),
		"bad payload":    segment(`{"alg":"HS256"}`) + ".!!!." + segment("sig"),
		"payload not js": segment(`{"alg":"HS256"}`) + "." + segment("nope") + "." + segment("sig"),
	}
	for name, tok := range invalid {
		t.Run(name, func(t *testing.T) {
			exp, err := DecodeExpiry(tok)
			assert.ErrorIs(t, err, ErrTokenFormatInvalid)
			assert.Zero(t, exp)
		})
	}
}
