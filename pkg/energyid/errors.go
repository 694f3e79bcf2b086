package energyid

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeRejected is matched by a *RejectedError returned when the
	// hello endpoint responds with a non-2xx status.
	ErrHandshakeRejected = errors.New("hello handshake rejected")

	// ErrHandshakeMalformed is returned when the hello response is missing
	// the bearer token or twin id.
	ErrHandshakeMalformed = errors.New("hello response malformed")

	// ErrTokenFormatInvalid is returned when the bearer token isn't a
	// three-segment JWT with an exp claim.
	ErrTokenFormatInvalid = errors.New("invalid token format")

	// ErrWebhookRejected is returned when the webhook responds with a non-2xx
	// status.
	ErrWebhookRejected = errors.New("webhook rejected")
)

// RejectedError holds the status and body of a rejected hello call.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("hello endpoint failed (%d): %s", e.StatusCode, e.Body)
}

// Is lets errors.Is match ErrHandshakeRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrHandshakeRejected
}
