package energyid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var unverifiedParser = jwt.NewParser()

// DecodeExpiry returns the exp claim of a bearer token in unix seconds. The
// signature is NOT verified; the token came straight from EnergyID over TLS
// and is only inspected to know when to ask for a new one.
func DecodeExpiry(bearerToken string) (int64, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(bearerToken, "Bearer ", ""))
	if raw == "" {
		return 0, fmt.Errorf("%w: empty token", ErrTokenFormatInvalid)
	}
	if strings.Count(raw, ".") != 2 {
		return 0, fmt.Errorf("%w: expected 3 segments, got %d", ErrTokenFormatInvalid, strings.Count(raw, ".")+1)
	}

	claims := jwt.MapClaims{}
	_, _, err := unverifiedParser.ParseUnverified(raw, claims)
	// an unknown alg still leaves us with decoded claims
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return 0, fmt.Errorf("%w: %w", ErrTokenFormatInvalid, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTokenFormatInvalid, err)
	}
	if exp == nil {
		return 0, fmt.Errorf("%w: token does not contain exp claim", ErrTokenFormatInvalid)
	}
	return exp.Unix(), nil
}
