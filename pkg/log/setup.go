package log

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/common"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultFile is where logs are written unless ENERGYID_LOG_FILE is set.
	DefaultFile = "/var/log/energyid/energyid.log"

	// RetentionDays is how long rotated log files are kept.
	RetentionDays = 30
)

// Config controls where logs are written.
type Config struct {
	File    string
	Console bool
	Level   slog.Level
}

// Configured registers the logging flags and returns the config that is
// filled in once flags are parsed. The level is not set here since lflag
// owns -log-level.
func Configured() *Config {
	file := lflag.String("log-file", common.Env("ENERGYID_LOG_FILE", DefaultFile), "Path of the rotated log file")
	console := lflag.Bool("console-logging", ParseBool(os.Getenv("ENERGYID_CONSOLE_LOGGING")), "Also write logs to stdout")

	c := &Config{Level: slog.LevelInfo}
	lflag.Do(func() {
		c.File = *file
		c.Console = *console
	})
	return c
}

// ParseBool returns true for the usual truthy strings (true, 1, yes, on).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// ParseLevel parses DEBUG, INFO, WARNING, ERROR or CRITICAL (case
// insensitive). CRITICAL maps to slog.LevelError.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %q", s)
}

// Setup replaces the default logger with one writing JSON to a daily rotated
// file and optionally stdout. The returned closer flushes the file.
func Setup(c Config) (io.Closer, error) {
	home, _ := os.UserHomeDir()
	path, err := resolvePath(c.File, home, os.MkdirAll)
	if err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename: path,
		MaxAge:   RetentionDays,
		Compress: true,
	}
	file := &dailyFile{lj: lj, now: time.Now}

	var w io.Writer = file
	if c.Console {
		w = io.MultiWriter(file, os.Stdout)
	}

	defaultLogLevel.Set(c.Level)
	setDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	})))
	Default().Info("logging initialized", slog.String("level", c.Level.String()), slog.String("file", path))
	return lj, nil
}

// resolvePath makes sure the log directory exists and falls back to a
// directory under home if we aren't allowed to create it.
func resolvePath(path, home string, mkdir func(string, os.FileMode) error) (string, error) {
	if path == "" {
		path = DefaultFile
	}
	err := mkdir(filepath.Dir(path), 0o755)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, fs.ErrPermission) || home == "" {
		return "", fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(path), err)
	}

	fallback := filepath.Join(home, ".local", "log", "energyid", "energyid.log")
	if err := mkdir(filepath.Dir(fallback), 0o755); err != nil {
		return "", fmt.Errorf("failed to create fallback log directory %s: %w", filepath.Dir(fallback), err)
	}
	fmt.Fprintf(os.Stderr, "Warning: permission denied creating log directory at %s. Using fallback location: %s\n", filepath.Dir(path), fallback)
	return fallback, nil
}

// dailyFile rotates the underlying file on the first write of a new day.
type dailyFile struct {
	mu  sync.Mutex
	lj  *lumberjack.Logger
	day string
	now func() time.Time
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.now().Format(time.DateOnly)
	if d.day != "" && d.day != day {
		if err := d.lj.Rotate(); err != nil {
			return 0, err
		}
	}
	d.day = day
	return d.lj.Write(p)
}
