package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

var (
	// ErrUnavailable is returned when the underlying medium cannot be opened,
	// read or have its schema created.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrWrite is returned when a token could not be appended. Records that
	// were already stored are left intact.
	ErrWrite = errors.New("storage write failed")
)

// Database persists tokens. Tokens are only ever appended, never updated, so
// the latest token is always well defined by its expiry.
type Database interface {
	// EnsureReady creates the schema if it doesn't exist. It is safe to call
	// on every start.
	EnsureReady(ctx context.Context) error

	// LatestToken returns the token with the greatest expiry or nil if no
	// tokens are stored.
	LatestToken(ctx context.Context) (*types.Token, error)

	// AppendToken stores a new token.
	AppendToken(ctx context.Context, token types.Token) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, firestore)")

	var p struct{ Database }

	sq := configuredSQLite()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
