// Package token decides when a stored EnergyID token can be reused and
// coordinates refreshing it through the hello handshake.
package token

import (
	"time"

	"github.com/raterudder/energyid-monitor/pkg/types"
)

// DefaultExpiryBuffer is how long before its expiry a token stops being
// reused.
const DefaultExpiryBuffer = time.Hour

// IsValid reports whether t is still usable at now, leaving buffer of
// headroom. A token expiring exactly at now+buffer is not valid.
func IsValid(t types.Token, now time.Time, buffer time.Duration) bool {
	return t.Exp > now.Unix()+int64(buffer/time.Second)
}
