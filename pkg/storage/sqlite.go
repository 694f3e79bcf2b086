package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	_ "github.com/mattn/go-sqlite3"
	"github.com/raterudder/energyid-monitor/pkg/common"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

// DefaultSQLitePath is used unless ENERGYID_DB_PATH or -sqlite-path is set.
const DefaultSQLitePath = "data/token.db"

//go:embed dbscripts/*.sql
var dbscripts embed.FS

// SQLiteProvider implements Database on top of a local SQLite file.
type SQLiteProvider struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	db *sql.DB
}

// NewSQLite returns a provider for the database at path. path can be a
// filesystem path, ":memory:" or a "file:" URI.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{
		path: path,
		now:  time.Now,
	}
}

// configuredSQLite sets up the SQLite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", common.Env("ENERGYID_DB_PATH", DefaultSQLitePath), "Path (or file: URI) of the SQLite token database")

	s := NewSQLite("")
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

func (s *SQLiteProvider) inMemory() bool {
	return strings.Contains(s.path, ":memory:") || strings.Contains(s.path, "mode=memory")
}

// filePath returns the filesystem path of the database or "" if the
// database isn't a plain file.
func (s *SQLiteProvider) filePath() string {
	if s.inMemory() || strings.HasPrefix(s.path, "file:") {
		return ""
	}
	return s.path
}

// handle lazily opens the database and applies the connection pragmas.
func (s *SQLiteProvider) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if p := s.filePath(); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrUnavailable, err)
	}

	// every connection to :memory: is its own database
	if s.inMemory() {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrUnavailable, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: failed to set %s: %w", ErrUnavailable, strings.TrimSuffix(p, ";"), err)
		}
	}

	s.db = db
	return db, nil
}

// EnsureReady opens the database and applies every script under dbscripts in
// filename order. The scripts are idempotent so this runs on every start.
func (s *SQLiteProvider) EnsureReady(ctx context.Context) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	names, err := fs.Glob(dbscripts, "dbscripts/*.sql")
	if err != nil {
		return fmt.Errorf("%w: failed to list migrations: %w", ErrUnavailable, err)
	}
	sort.Strings(names)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, name := range names {
		script, err := dbscripts.ReadFile(name)
		if err != nil {
			return fmt.Errorf("%w: failed to read %s: %w", ErrUnavailable, name, err)
		}
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("%w: failed to apply %s: %w", ErrUnavailable, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit migrations: %w", ErrUnavailable, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "sqlite schema ready", slog.String("path", s.path), slog.Int("scripts", len(names)))
	return nil
}

// LatestToken returns the token with the greatest expiry.
func (s *SQLiteProvider) LatestToken(ctx context.Context) (*types.Token, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT bearer_token, twin_id, exp
		FROM tokens
		ORDER BY exp DESC, id DESC
		LIMIT 1
	`
	var t types.Token
	if err := db.QueryRowContext(ctx, q).Scan(&t.BearerToken, &t.TwinID, &t.Exp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: scan token: %w", ErrUnavailable, err)
	}
	return &t, nil
}

// AppendToken inserts a new token row. Existing rows are never modified.
func (s *SQLiteProvider) AppendToken(ctx context.Context, t types.Token) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	const q = `
		INSERT INTO tokens (bearer_token, twin_id, exp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := s.now().Unix()
	if _, err := db.ExecContext(ctx, q, t.BearerToken, t.TwinID, t.Exp, now, now); err != nil {
		return fmt.Errorf("%w: insert token: %w", ErrWrite, err)
	}
	return nil
}

// Close closes the database if it was opened.
func (s *SQLiteProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
