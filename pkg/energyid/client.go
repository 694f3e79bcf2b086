package energyid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/common"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

// DefaultTimeout bounds every call to EnergyID unless -energyid-timeout is
// set.
const DefaultTimeout = 30 * time.Second

// Config holds the EnergyID endpoints and the provisioning identity.
type Config struct {
	HelloURL   string
	WebhookURL string
	Identity   types.Identity
	Timeout    time.Duration
}

// Validate returns an error naming every missing required setting.
func (c Config) Validate() error {
	var missing []string
	required := []struct {
		env string
		val string
	}{
		{"ENERGYID_KEY", c.Identity.ProvisioningKey},
		{"ENERGYID_SECRET", c.Identity.ProvisioningSecret},
		{"ENERGYID_YOUR_DEVICE_ID", c.Identity.DeviceID},
		{"ENERGYID_YOUR_DEVICE_NAME", c.Identity.DeviceName},
		{"ENERGYID_HELLO_URL", c.HelloURL},
		{"ENERGYID_WEBHOOK_URL", c.WebhookURL},
	}
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	for _, u := range []string{c.HelloURL, c.WebhookURL} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("failed to parse url (%s): %w", u, err)
		}
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// Client talks to the EnergyID hello and webhook endpoints.
type Client struct {
	client *http.Client
	config Config
}

// NewClient returns a client for the given config. The config is not
// validated.
func NewClient(c Config) *Client {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return &Client{
		client: common.HTTPClient(c.Timeout),
		config: c,
	}
}

// ConfigFromEnv reads the config from the ENERGYID_* environment variables.
// The result is not validated.
func ConfigFromEnv() Config {
	return Config{
		HelloURL:   common.Env("ENERGYID_HELLO_URL", ""),
		WebhookURL: common.Env("ENERGYID_WEBHOOK_URL", ""),
		Identity: types.Identity{
			ProvisioningKey:    common.Env("ENERGYID_KEY", ""),
			ProvisioningSecret: common.Env("ENERGYID_SECRET", ""),
			DeviceID:           common.Env("ENERGYID_YOUR_DEVICE_ID", ""),
			DeviceName:         common.Env("ENERGYID_YOUR_DEVICE_NAME", ""),
		},
		Timeout: DefaultTimeout,
	}
}

// Configured registers the EnergyID flags and returns the client that is
// set up once flags are parsed. Defaults come from ConfigFromEnv.
func Configured() *Client {
	env := ConfigFromEnv()
	helloURL := lflag.String("energyid-hello-url", env.HelloURL, "EnergyID hello (provisioning) endpoint")
	webhookURL := lflag.String("energyid-webhook-url", env.WebhookURL, "EnergyID webhook-in endpoint")
	key := lflag.String("energyid-key", env.Identity.ProvisioningKey, "EnergyID provisioning key")
	secret := lflag.String("energyid-secret", env.Identity.ProvisioningSecret, "EnergyID provisioning secret")
	deviceID := lflag.String("energyid-device-id", env.Identity.DeviceID, "Device ID to register with EnergyID")
	deviceName := lflag.String("energyid-device-name", env.Identity.DeviceName, "Device name to register with EnergyID")
	timeout := lflag.Duration("energyid-timeout", env.Timeout, "Timeout for calls to EnergyID")

	c := &Client{}
	lflag.Do(func() {
		cfg := Config{
			HelloURL:   *helloURL,
			WebhookURL: *webhookURL,
			Identity: types.Identity{
				ProvisioningKey:    *key,
				ProvisioningSecret: *secret,
				DeviceID:           *deviceID,
				DeviceName:         *deviceName,
			},
			Timeout: *timeout,
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("energyid validation failed: %v", err))
		}
		*c = *NewClient(cfg)
	})
	return c
}

// Identity returns the provisioning identity the client was configured with.
func (c *Client) Identity() types.Identity {
	return c.config.Identity
}

func newPostJSONRequest(ctx context.Context, endpoint string, data interface{}) (*http.Request, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends the request and reads the whole body. Transport failures are
// wrapped with common.ErrConnectivity.
func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, common.Connectivity(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, common.Connectivity(fmt.Errorf("failed to read response: %w", err))
	}
	return resp, body, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

type helloRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// helloResponse covers every shape the hello endpoint has returned. The
// ENERGYID_* fields are the legacy key names.
type helloResponse struct {
	Headers           map[string]interface{} `json:"headers"`
	BearerToken       string                 `json:"bearerToken"`
	TwinID            string                 `json:"twinId"`
	LegacyBearerToken string                 `json:"ENERGYID_BEARER_TOKEN"`
	LegacyTwinID      string                 `json:"ENERGYID_TWIN_ID"`
}

func (h helloResponse) header(name string) string {
	for k, v := range h.Headers {
		if s, ok := v.(string); ok && strings.EqualFold(k, name) {
			return s
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Handshake calls the hello endpoint and returns a new token. The token's
// expiry is decoded from the bearer token itself.
func (c *Client) Handshake(ctx context.Context, identity types.Identity) (types.Token, error) {
	req, err := newPostJSONRequest(ctx, c.config.HelloURL, helloRequest{
		DeviceID:   identity.DeviceID,
		DeviceName: identity.DeviceName,
	})
	if err != nil {
		return types.Token{}, err
	}
	req.Header.Set("X-Provisioning-Key", identity.ProvisioningKey)
	req.Header.Set("X-Provisioning-Secret", identity.ProvisioningSecret)

	resp, body, err := c.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "energyid hello request failed", slog.Any("error", err))
		return types.Token{}, err
	}
	if !isSuccess(resp.StatusCode) {
		return types.Token{}, &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// a body that isn't JSON may still have the headers we need
	var hr helloResponse
	decodeErr := json.Unmarshal(body, &hr)

	// headers take precedence over the body fields, then the legacy names
	bearer := firstNonEmpty(hr.header("authorization"), resp.Header.Get("Authorization"), hr.BearerToken, hr.LegacyBearerToken)
	twinID := firstNonEmpty(hr.header("x-twin-id"), resp.Header.Get("X-Twin-Id"), hr.TwinID, hr.LegacyTwinID)
	if bearer == "" || twinID == "" {
		if decodeErr != nil {
			return types.Token{}, fmt.Errorf("%w: missing bearer token or twin id (body not JSON: %v)", ErrHandshakeMalformed, decodeErr)
		}
		return types.Token{}, fmt.Errorf("%w: missing bearer token or twin id", ErrHandshakeMalformed)
	}

	exp, err := DecodeExpiry(bearer)
	if err != nil {
		return types.Token{}, err
	}

	tok := types.Token{BearerToken: bearer, TwinID: twinID, Exp: exp}
	log.Ctx(ctx).DebugContext(ctx, "energyid hello success",
		slog.String("bearer", log.MaskToken(bearer)),
		slog.String("twinID", twinID),
		slog.Int64("exp", exp),
	)
	return tok, nil
}

type webhookPayload struct {
	TS string  `json:"ts"`
	PV float64 `json:"pv"`
}

// PostReading sends the lifetime energy reading to the webhook using the
// given token. The response is returned decoded if it is JSON, otherwise as
// a map with the status and raw body.
func (c *Client) PostReading(ctx context.Context, tok types.Token, pv float64, ts time.Time) (interface{}, error) {
	req, err := newPostJSONRequest(ctx, c.config.WebhookURL, webhookPayload{
		TS: strconv.FormatInt(ts.Unix(), 10),
		PV: pv,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", tok.BearerToken)
	req.Header.Set("x-twin-id", tok.TwinID)

	resp, body, err := c.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "energyid webhook request failed", slog.Any("error", err))
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w (%d): %s", ErrWebhookRejected, resp.StatusCode, string(body))
	}

	var res interface{}
	if err := json.Unmarshal(body, &res); err != nil {
		return map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		}, nil
	}
	return res, nil
}
