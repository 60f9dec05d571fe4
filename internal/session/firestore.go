package session

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgellow/admin-console/internal/crypto"
	"github.com/dgellow/admin-console/internal/log"
)

var _ Store = (*FirestoreStore)(nil)
var _ Cleaner = (*FirestoreStore)(nil)

// maxBatchSize is the Firestore batch write limit
const maxBatchSize = 500

// sessionDoc is the document stored per session
type sessionDoc struct {
	Token     string    `firestore:"token"` // encrypted
	ExpiresAt int64     `firestore:"expires_at"`
	CreatedAt time.Time `firestore:"created_at"`
}

// FirestoreStore keeps one document per session in a Firestore collection.
// Expired documents are removed by CleanupExpired.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
}

// NewFirestoreStore connects to Firestore and returns a session store
func NewFirestoreStore(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected session store", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStore{
		client:     client,
		collection: collection,
		encryptor:  encryptor,
	}, nil
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Load(ctx context.Context, id string) (Record, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, ErrSessionNotFound
		}
		return Record{}, fmt.Errorf("failed to get session: %w", err)
	}

	var d sessionDoc
	if err := snap.DataTo(&d); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	payload, err := s.encryptor.Decrypt(d.Token)
	if err != nil {
		return Record{}, fmt.Errorf("failed to decrypt session: %w", err)
	}

	rec := Record{ID: id, Payload: payload, CreatedAt: d.CreatedAt}
	if d.ExpiresAt > 0 {
		rec.ExpiresAt = time.Unix(d.ExpiresAt, 0)
	}
	return rec, nil
}

func (s *FirestoreStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("session: missing session id")
	}

	sealed, err := s.encryptor.Encrypt(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	d := sessionDoc{Token: sealed, CreatedAt: rec.CreatedAt}
	if !rec.ExpiresAt.IsZero() {
		d.ExpiresAt = rec.ExpiresAt.Unix()
	}

	if _, err := s.doc(rec.ID).Set(ctx, d); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Expire(ctx context.Context, id string, at time.Time) error {
	_, err := s.doc(id).Update(ctx, []firestore.Update{
		{Path: "expires_at", Value: at.Unix()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	_, err := s.doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired deletes documents whose expiry second has passed
func (s *FirestoreStore) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().Unix()
	iter := s.client.Collection(s.collection).
		Where("expires_at", ">", 0).
		Where("expires_at", "<", now).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired sessions: %w", err)
		}

		batch.Delete(snap.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

// Close releases the Firestore client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
