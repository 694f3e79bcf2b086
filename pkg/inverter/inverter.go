// Package inverter reads production data from a solar micro-inverter.
package inverter

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/common"
)

// Reader is the part of an inverter the monitor needs.
type Reader interface {
	// TotalOutput returns the current combined output in watts.
	TotalOutput(ctx context.Context) (float64, error)

	// EnergyLifetime returns the total energy produced since installation in
	// kWh.
	EnergyLifetime(ctx context.Context) (float64, error)
}

// Configured registers the inverter flags and returns the EZ1 client that is
// set up once flags are parsed.
func Configured() *EZ1 {
	address := lflag.String("inverter-address", common.Env("EZ1_IP_ADDRESS", DefaultAddress), "LAN address of the EZ1 inverter")
	port := lflag.Int("inverter-port", DefaultPort, "Port of the EZ1 local API")
	timeout := lflag.Duration("inverter-timeout", 10*time.Second, "Timeout for calls to the inverter")

	e := &EZ1{}
	lflag.Do(func() {
		if *address == "" {
			panic("inverter-address is required")
		}
		if *port <= 0 || *port > 65535 {
			panic(fmt.Sprintf("invalid inverter-port: %d", *port))
		}
		*e = *NewEZ1(*address, *port, *timeout)
	})
	return e
}
