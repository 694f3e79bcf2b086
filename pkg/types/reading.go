package types

import "time"

// Reading is the result of a single polling tick.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	// OutputKW is the live combined output of both channels in kilowatts.
	OutputKW float64 `json:"outputKW"`
	// LifetimeKWH is the lifetime energy produced which is what gets sent to
	// the webhook.
	LifetimeKWH float64 `json:"lifetimeKWH"`
}
