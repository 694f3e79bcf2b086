package log

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"WARN":     slog.LevelWarn,
		"error":    slog.LevelError,
		"CRITICAL": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	lvl, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "1", "YES", " on "} {
		assert.True(t, ParseBool(s), s)
	}
	for _, s := range []string{"", "false", "0", "off", "nope"} {
		assert.False(t, ParseBool(s), s)
	}
}

func TestResolvePath(t *testing.T) {
	t.Run("Creates Directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "energyid.log")
		got, err := resolvePath(path, "", os.MkdirAll)
		require.NoError(t, err)
		assert.Equal(t, path, got)
		assert.DirExists(t, filepath.Join(dir, "nested"))
	})

	t.Run("Permission Fallback", func(t *testing.T) {
		home := t.TempDir()
		mkdir := func(p string, perm os.FileMode) error {
			if p == "/var/log/energyid" {
				return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrPermission}
			}
			return os.MkdirAll(p, perm)
		}
		got, err := resolvePath(DefaultFile, home, mkdir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".local", "log", "energyid", "energyid.log"), got)
	})

	t.Run("Other Errors", func(t *testing.T) {
		mkdir := func(p string, perm os.FileMode) error {
			return fs.ErrInvalid
		}
		_, err := resolvePath(DefaultFile, t.TempDir(), mkdir)
		assert.ErrorIs(t, err, fs.ErrInvalid)
	})
}

func TestSetup(t *testing.T) {
	prev := Default()
	t.Cleanup(func() {
		setDefault(prev)
		defaultLogLevel.Set(slog.LevelInfo)
	})

	path := filepath.Join(t.TempDir(), "logs", "energyid.log")
	closer, err := Setup(Config{File: path, Level: slog.LevelDebug})
	require.NoError(t, err)

	Default().Debug("hello from test")
	assert.Same(t, Default(), slog.Default())
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "logging initialized")
	assert.Contains(t, string(b), "hello from test")
}

func TestDailyFileRotates(t *testing.T) {
	dir := t.TempDir()
	lj := &lumberjack.Logger{Filename: filepath.Join(dir, "energyid.log")}
	defer lj.Close()

	now := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	d := &dailyFile{lj: lj, now: func() time.Time { return now }}

	_, err := d.Write([]byte("day one\n"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = d.Write([]byte("day two\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "expected the current file and one rotated backup")

	b, err := os.ReadFile(filepath.Join(dir, "energyid.log"))
	require.NoError(t, err)
	assert.Equal(t, "day two\n", string(b))
}
