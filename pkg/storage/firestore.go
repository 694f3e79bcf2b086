package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Each token is its own document in a single collection.
type FirestoreProvider struct {
	projectID  string
	database   string
	collection string
	now        func() time.Time

	mu     sync.Mutex
	client *firestore.Client
}

type firestoreToken struct {
	BearerToken string `firestore:"bearer_token"`
	TwinID      string `firestore:"twin_id"`
	Exp         int64  `firestore:"exp"`
	CreatedAt   int64  `firestore:"created_at"`
	UpdatedAt   int64  `firestore:"updated_at"`
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	collection := lflag.String("firestore-collection", "tokens", "Firestore collection holding the tokens")

	f := &FirestoreProvider{now: time.Now}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.collection = *collection

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	if f.collection == "" {
		return errors.New("firestore-collection is required")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return nil
	}

	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		err := f.client.Close()
		f.client = nil
		return err
	}
	return nil
}

func (f *FirestoreProvider) tokens() (*firestore.CollectionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil, fmt.Errorf("%w: firestore client not initialized", ErrUnavailable)
	}
	return f.client.Collection(f.collection), nil
}

// EnsureReady connects to Firestore and verifies the collection can be read.
// Firestore has no schema so there is nothing to create.
func (f *FirestoreProvider) EnsureReady(ctx context.Context) error {
	if err := f.Init(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	coll, err := f.tokens()
	if err != nil {
		return err
	}

	iter := coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: firestore database %q not found: %w", ErrUnavailable, f.database, err)
		}
		return fmt.Errorf("%w: failed to read %s collection (%s): %w", ErrUnavailable, f.collection, status.Code(err), err)
	}
	log.Ctx(ctx).DebugContext(ctx, "firestore ready", slog.String("collection", f.collection))
	return nil
}

// LatestToken returns the token with the greatest expiry.
func (f *FirestoreProvider) LatestToken(ctx context.Context) (*types.Token, error) {
	coll, err := f.tokens()
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("exp", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query latest token: %w", ErrUnavailable, err)
	}

	var ft firestoreToken
	if err := doc.DataTo(&ft); err != nil {
		return nil, fmt.Errorf("%w: failed to decode token %s: %w", ErrUnavailable, doc.Ref.ID, err)
	}
	return &types.Token{
		BearerToken: ft.BearerToken,
		TwinID:      ft.TwinID,
		Exp:         ft.Exp,
	}, nil
}

// AppendToken adds a new document with an auto-generated ID so an existing
// token is never overwritten.
func (f *FirestoreProvider) AppendToken(ctx context.Context, t types.Token) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	coll, err := f.tokens()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	now := f.now().Unix()
	_, _, err = coll.Add(ctx, firestoreToken{
		BearerToken: t.BearerToken,
		TwinID:      t.TwinID,
		Exp:         t.Exp,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to add token: %w", ErrWrite, err)
	}
	return nil
}
