// Package monitor runs the polling flow: get a token, read the inverter and
// post the lifetime energy to the EnergyID webhook.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/common"
	"github.com/raterudder/energyid-monitor/pkg/inverter"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/metrics"
	"github.com/raterudder/energyid-monitor/pkg/storage"
	"github.com/raterudder/energyid-monitor/pkg/token"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

// Tokens hands out a usable token. token.Coordinator implements it.
type Tokens interface {
	GetOrRefresh(ctx context.Context) (types.Token, error)
	Buffer() time.Duration
}

// Poster sends a reading to EnergyID. energyid.Client implements it.
type Poster interface {
	PostReading(ctx context.Context, tok types.Token, pv float64, ts time.Time) (interface{}, error)
}

// Mirror receives every successful reading. publish.MQTT implements it.
type Mirror interface {
	Publish(ctx context.Context, r types.Reading) error
}

// Monitor runs ticks and remembers the outcome of the last one.
type Monitor struct {
	tokens   Tokens
	reader   inverter.Reader
	poster   Poster
	mirror   Mirror
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	status Status
	token  *types.Token
}

// New returns a Monitor. mirror may be nil.
func New(tokens Tokens, reader inverter.Reader, poster Poster, mirror Mirror) *Monitor {
	return &Monitor{
		tokens: tokens,
		reader: reader,
		poster: poster,
		mirror: mirror,
		now:    time.Now,
	}
}

// Configured registers -poll-interval and returns a Monitor using the given
// dependencies.
func Configured(tokens Tokens, reader inverter.Reader, poster Poster, mirror Mirror) *Monitor {
	interval := lflag.Duration("poll-interval", 0, "How often to post a reading (0 posts once and exits)")

	m := New(tokens, reader, poster, mirror)
	lflag.Do(func() {
		if *interval < 0 {
			panic("poll-interval must not be negative")
		}
		m.interval = *interval
	})
	return m
}

// SetInterval overrides the poll interval.
func (m *Monitor) SetInterval(d time.Duration) {
	m.interval = d
}

// RunOnce performs a single tick and returns the reading that was posted.
func (m *Monitor) RunOnce(ctx context.Context) (types.Reading, error) {
	reading, err := m.runOnce(ctx)
	metrics.TicksTotal.WithLabelValues(metrics.Result(err)).Inc()
	m.record(reading, err)
	return reading, err
}

func (m *Monitor) runOnce(ctx context.Context) (types.Reading, error) {
	tok, err := m.tokens.GetOrRefresh(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrWrite) || tok.BearerToken == "" {
			return types.Reading{}, fmt.Errorf("failed to get token: %w", err)
		}
		// the token is good for this tick even if we couldn't cache it
		log.Ctx(ctx).WarnContext(ctx, "failed to store new token, using it uncached", slog.Any("error", err))
	}
	m.mu.Lock()
	m.token = &tok
	m.mu.Unlock()

	outputKW, err := m.liveOutputKW(ctx)
	if err != nil {
		return types.Reading{}, err
	}

	lifetime, err := m.reader.EnergyLifetime(ctx)
	metrics.InverterReadsTotal.WithLabelValues("lifetime", metrics.Result(err)).Inc()
	if err != nil {
		return types.Reading{}, fmt.Errorf("failed to read lifetime energy: %w", err)
	}
	metrics.LifetimeKWH.Set(lifetime)
	log.Ctx(ctx).InfoContext(ctx, "read lifetime energy", slog.Float64("lifetimeKWH", lifetime))

	reading := types.Reading{
		Timestamp:   m.now(),
		OutputKW:    outputKW,
		LifetimeKWH: lifetime,
	}

	res, err := m.poster.PostReading(ctx, tok, lifetime, reading.Timestamp)
	metrics.WebhookPostsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return reading, fmt.Errorf("failed to post reading: %w", err)
	}

	if m.mirror != nil {
		if err := m.mirror.Publish(ctx, reading); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to mirror reading", slog.Any("error", err))
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "posted reading to energyid",
		slog.String("bearer", log.MaskToken(tok.BearerToken)),
		slog.String("twinID", tok.TwinID),
		slog.Int64("exp", tok.Exp),
		slog.Any("response", res),
	)
	return reading, nil
}

// liveOutputKW reads the live output. The inverter drops off the network
// when there is no sun so connectivity failures and empty answers count as
// zero output.
func (m *Monitor) liveOutputKW(ctx context.Context) (float64, error) {
	watts, err := m.reader.TotalOutput(ctx)
	metrics.InverterReadsTotal.WithLabelValues("output", metrics.Result(err)).Inc()
	if err != nil {
		if !errors.Is(err, common.ErrConnectivity) && !errors.Is(err, inverter.ErrNoData) {
			return 0, fmt.Errorf("failed to read live output: %w", err)
		}
		log.Ctx(ctx).WarnContext(ctx, "no live output from inverter, assuming zero", slog.Any("error", err))
		watts = 0
	}
	kw := watts / 1000
	metrics.OutputKW.Set(kw)
	log.Ctx(ctx).InfoContext(ctx, "read live output", slog.Float64("watts", watts), slog.Float64("kw", kw))
	return kw, nil
}

// Run performs a tick immediately and then every interval until ctx is done.
// With no interval it performs a single tick and returns its error.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		_, err := m.RunOnce(ctx)
		return err
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.RunOnce(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "energyid tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// TokenStatus describes the token used by the last tick without exposing it.
type TokenStatus struct {
	TwinID    string    `json:"twinId"`
	Bearer    string    `json:"bearer"`
	ExpiresAt time.Time `json:"expiresAt"`
	Valid     bool      `json:"valid"`
}

// Status is the outcome of the last tick.
type Status struct {
	LastRun     time.Time      `json:"lastRun,omitzero"`
	LastSuccess time.Time      `json:"lastSuccess,omitzero"`
	LastError   string         `json:"lastError,omitempty"`
	Reading     *types.Reading `json:"reading,omitempty"`
	Token       *TokenStatus   `json:"token,omitempty"`
}

func (m *Monitor) record(r types.Reading, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.LastRun = m.now()
	if err != nil {
		m.status.LastError = err.Error()
		return
	}
	m.status.LastError = ""
	m.status.LastSuccess = m.status.LastRun
	m.status.Reading = &r
}

// Status returns the outcome of the last tick.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.status
	if m.token != nil {
		s.Token = &TokenStatus{
			TwinID:    m.token.TwinID,
			Bearer:    log.MaskToken(m.token.BearerToken),
			ExpiresAt: m.token.ExpiresAt(),
			Valid:     token.IsValid(*m.token, m.now(), m.tokens.Buffer()),
		}
	}
	return s
}
