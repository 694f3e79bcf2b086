package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/energyid"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/storage"
	"github.com/raterudder/energyid-monitor/pkg/token"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

func main() {
	if err := godotenv.Overload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	s := storage.Configured()
	refresh := lflag.Bool("refresh", false, "Hand-shake with EnergyID if the stored token is missing or expiring")
	buffer := lflag.Duration("token-expiry-buffer", token.DefaultExpiryBuffer, "Refresh the token when it expires within this duration")
	lflag.Configure()

	if env := os.Getenv("ENERGYID_LOG_LEVEL"); env != "" {
		if level, err := log.ParseLevel(env); err == nil {
			log.SetDefaultLogLevel(level)
		}
	}

	ctx := context.Background()
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	var tok *types.Token
	if *refresh {
		cfg := energyid.ConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		c := token.NewCoordinator(s, energyid.NewClient(cfg), cfg.Identity, token.WithBuffer(*buffer))
		t, err := c.GetOrRefresh(ctx)
		if err != nil && t.BearerToken == "" {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get token", slog.Any("error", err))
			os.Exit(1)
		} else if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "got token but failed to store it", slog.Any("error", err))
		}
		tok = &t
	} else {
		c := token.NewCoordinator(s, nil, types.Identity{}, token.WithBuffer(*buffer))
		t, err := c.Cached(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read stored token", slog.Any("error", err))
			os.Exit(1)
		}
		tok = t
	}

	if tok == nil {
		fmt.Println("no token stored")
		os.Exit(2)
	}

	now := time.Now()
	fmt.Printf("bearer:  %s\n", log.MaskToken(tok.BearerToken))
	fmt.Printf("twin id: %s\n", tok.TwinID)
	fmt.Printf("expires: %s (in %s)\n", tok.ExpiresAt().Format(time.RFC3339), tok.ExpiresAt().Sub(now).Truncate(time.Second))
	fmt.Printf("valid:   %t (buffer %s)\n", token.IsValid(*tok, now, *buffer), *buffer)
}
