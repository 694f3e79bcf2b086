package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raterudder/energyid-monitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID:  "test-project-id",
		database:   randDB,
		collection: "tokens",
		now:        time.Now,
	}

	ctx := context.Background()
	require.NoError(t, f.EnsureReady(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
		assert.Error(t, (&FirestoreProvider{}).Validate())
	})

	t.Run("Empty", func(t *testing.T) {
		latest, err := f.LatestToken(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Latest By Expiry", func(t *testing.T) {
		now := time.Now().Unix()
		newer := types.Token{BearerToken: "new_bearer", TwinID: "twin", Exp: now + 7200}
		older := types.Token{BearerToken: "old_bearer", TwinID: "twin", Exp: now + 3600}
		require.NoError(t, f.AppendToken(ctx, newer))
		require.NoError(t, f.AppendToken(ctx, older))

		latest, err := f.LatestToken(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, newer, *latest)
	})

	t.Run("Rejects Incomplete Token", func(t *testing.T) {
		err := f.AppendToken(ctx, types.Token{TwinID: "twin", Exp: 1})
		assert.ErrorIs(t, err, ErrWrite)
	})
}

func TestFirestoreProviderUninitialized(t *testing.T) {
	f := &FirestoreProvider{collection: "tokens", now: time.Now}
	ctx := context.Background()

	_, err := f.LatestToken(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	err = f.AppendToken(ctx, types.Token{BearerToken: "b", TwinID: "t", Exp: 1})
	assert.ErrorIs(t, err, ErrWrite)

	assert.NoError(t, f.Close())
}
