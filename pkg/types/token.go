package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidToken is returned when a token record is missing one of its
// required fields.
var ErrInvalidToken = errors.New("invalid token record")

// Token is a bearer credential issued by the EnergyID hello endpoint along
// with the twin it was issued for.
type Token struct {
	BearerToken string `json:"bearerToken"`
	TwinID      string `json:"twinId"`
	// Exp is the expiry in unix seconds, taken from the credential's own exp
	// claim.
	Exp int64 `json:"exp"`
}

// ExpiresAt returns Exp as a time.
func (t Token) ExpiresAt() time.Time {
	return time.Unix(t.Exp, 0)
}

// Validate ensures every field is populated so a half-written record is never
// persisted.
func (t Token) Validate() error {
	if t.BearerToken == "" {
		return fmt.Errorf("%w: missing bearer token", ErrInvalidToken)
	}
	if t.TwinID == "" {
		return fmt.Errorf("%w: missing twin id", ErrInvalidToken)
	}
	if t.Exp <= 0 {
		return fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	return nil
}

// Identity is the provisioning key/secret pair and device metadata used to
// authenticate the hello handshake.
type Identity struct {
	ProvisioningKey    string
	ProvisioningSecret string
	DeviceID           string
	DeviceName         string
}
