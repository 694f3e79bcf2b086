package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/raterudder/energyid-monitor/pkg/energyid"
	"github.com/raterudder/energyid-monitor/pkg/inverter"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/monitor"
	"github.com/raterudder/energyid-monitor/pkg/publish"
	"github.com/raterudder/energyid-monitor/pkg/server"
	"github.com/raterudder/energyid-monitor/pkg/storage"
	"github.com/raterudder/energyid-monitor/pkg/token"
)

func main() {
	// .env values win over the environment so flag defaults pick them up
	if err := godotenv.Overload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// init packages
	logCfg := log.Configured()
	s := storage.Configured()
	eid := energyid.Configured()
	inv := inverter.Configured()
	mq := publish.Configured()
	coord := token.Configured(s, eid)
	mon := monitor.Configured(coord, inv, eid, mq)
	srv := server.Configured(mon)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		logCfg.Level = slog.LevelDebug
	case llog.InfoLevel:
		logCfg.Level = slog.LevelInfo
	case llog.WarnLevel:
		logCfg.Level = slog.LevelWarn
	case llog.ErrorLevel:
		logCfg.Level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	var levelErr error
	if env := os.Getenv("ENERGYID_LOG_LEVEL"); env != "" {
		logCfg.Level, levelErr = log.ParseLevel(env)
	}

	closer, err := log.Setup(*logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	if levelErr != nil {
		slog.Warn("invalid ENERGYID_LOG_LEVEL, using INFO", slog.Any("error", levelErr))
	}
	slog.Debug("logger configured", slog.String("level", logCfg.Level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
		if err := mq.Close(); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to close mqtt", slog.Any("error", err))
		}
	}()

	if srv.Enabled() {
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "status server failed", slog.Any("error", err))
				cancel()
			}
		}()
	}

	if err := mon.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "energyid flow failed", slog.Any("error", err))
		closer.Close()
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "energyid monitor exited cleanly")
}
