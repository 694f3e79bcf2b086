package inverter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/raterudder/energyid-monitor/pkg/common"
	"github.com/raterudder/energyid-monitor/pkg/log"
)

// Defaults for the APsystems EZ1 local API.
const (
	DefaultAddress = "192.168.0.100"
	DefaultPort    = 8050
)

// ErrNoData is returned when the inverter answers but reports a failure.
var ErrNoData = errors.New("inverter returned no data")

// EZ1 talks to the local HTTP API of an APsystems EZ1 micro-inverter.
type EZ1 struct {
	client  *http.Client
	baseURL string
}

var _ Reader = (*EZ1)(nil)

// NewEZ1 returns a client for the inverter at address:port.
func NewEZ1(address string, port int, timeout time.Duration) *EZ1 {
	return &EZ1{
		client:  common.HTTPClient(timeout),
		baseURL: "http://" + net.JoinHostPort(address, strconv.Itoa(port)),
	}
}

// DeviceInfo describes the inverter.
type DeviceInfo struct {
	DeviceID string `json:"deviceId"`
	DevVer   string `json:"devVer"`
	SSID     string `json:"ssid"`
	IPAddr   string `json:"ipAddr"`
	MinPower string `json:"minPower"`
	MaxPower string `json:"maxPower"`
}

// OutputData is the per-channel production reported by the inverter. Power
// is in watts and energy in kWh.
type OutputData struct {
	P1  float64 `json:"p1"`
	E1  float64 `json:"e1"`
	TE1 float64 `json:"te1"`
	P2  float64 `json:"p2"`
	E2  float64 `json:"e2"`
	TE2 float64 `json:"te2"`
}

type ez1Response struct {
	Data     json.RawMessage `json:"data"`
	Message  string          `json:"message"`
	DeviceID string          `json:"deviceId"`
}

func (e *EZ1) get(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return common.Connectivity(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.Connectivity(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}

	var er ez1Response
	if err := json.Unmarshal(body, &er); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode ez1 response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if er.Message != "SUCCESS" || len(er.Data) == 0 || string(er.Data) == "null" {
		return fmt.Errorf("%w: %s: %s", ErrNoData, path, er.Message)
	}
	if err := json.Unmarshal(er.Data, dest); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

// DeviceInfo returns the inverter's identity and power limits.
func (e *EZ1) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	if err := e.get(ctx, "/getDeviceInfo", &info); err != nil {
		return DeviceInfo{}, fmt.Errorf("getDeviceInfo failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "ez1 device info",
		slog.String("deviceId", info.DeviceID),
		slog.String("devVer", info.DevVer),
		slog.String("ssid", info.SSID),
		slog.String("ipAddr", info.IPAddr),
		slog.String("minPower", info.MinPower),
		slog.String("maxPower", info.MaxPower),
	)
	return info, nil
}

// OutputData returns the raw per-channel readings.
func (e *EZ1) OutputData(ctx context.Context) (OutputData, error) {
	var data OutputData
	if err := e.get(ctx, "/getOutputData", &data); err != nil {
		return OutputData{}, fmt.Errorf("getOutputData failed: %w", err)
	}
	return data, nil
}

// TotalOutput returns p1+p2 in watts.
func (e *EZ1) TotalOutput(ctx context.Context) (float64, error) {
	data, err := e.OutputData(ctx)
	if err != nil {
		return 0, err
	}
	return data.P1 + data.P2, nil
}

// EnergyToday returns e1+e2 in kWh.
func (e *EZ1) EnergyToday(ctx context.Context) (float64, error) {
	data, err := e.OutputData(ctx)
	if err != nil {
		return 0, err
	}
	return data.E1 + data.E2, nil
}

// EnergyLifetime returns te1+te2 in kWh.
func (e *EZ1) EnergyLifetime(ctx context.Context) (float64, error) {
	data, err := e.OutputData(ctx)
	if err != nil {
		return 0, err
	}
	return data.TE1 + data.TE2, nil
}
