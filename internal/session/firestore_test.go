package session

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/admin-console/internal/crypto"
)

func TestFirestoreStoreConfig(t *testing.T) {
	ctx := context.Background()
	encryptor, _ := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))

	t.Run("missing GCP project ID", func(t *testing.T) {
		_, err := NewFirestoreStore(ctx, "", "(default)", "console_sessions", encryptor)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "projectID is required")
	})

	t.Run("nil encryptor", func(t *testing.T) {
		_, err := NewFirestoreStore(ctx, "test-project", "(default)", "console_sessions", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "encryptor is required")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := NewFirestoreStore(ctx, "test-project", "(default)", "", encryptor)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "collection is required")
	})
}

// newEmulatorStore connects to the Firestore emulator. Each test gets its own
// collection so runs do not interfere.
func newEmulatorStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	encryptor, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)

	collection := "console_sessions_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	store, err := NewFirestoreStore(context.Background(), "admin-console-test", "(default)", collection, encryptor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newEmulatorRecord(t *testing.T, expiresAt time.Time) Record {
	t.Helper()
	id, err := NewID()
	require.NoError(t, err)
	return NewRecord(id, Session{Token: "header.payload.sig"}, expiresAt)
}

func TestFirestoreStore_Emulator(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		rec := newEmulatorRecord(t, time.Now().Add(time.Hour))
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Payload, got.Payload)
		assert.Equal(t, rec.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	})

	t.Run("unknown id maps to not found", func(t *testing.T) {
		missing, err := NewID()
		require.NoError(t, err)

		_, err = store.Load(ctx, missing)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.ErrorIs(t, store.Expire(ctx, missing, time.Now()), ErrSessionNotFound)
		assert.NoError(t, store.Delete(ctx, missing), "delete is idempotent")
	})

	t.Run("expire updates the mirrored expiry", func(t *testing.T) {
		rec := newEmulatorRecord(t, time.Time{})
		require.NoError(t, store.Save(ctx, rec))
		at := time.Unix(1_900_000_000, 0)

		require.NoError(t, store.Expire(ctx, rec.ID, at))

		got, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, at.Unix(), got.ExpiresAt.Unix())
	})

	t.Run("delete removes the document", func(t *testing.T) {
		rec := newEmulatorRecord(t, time.Now().Add(time.Hour))
		require.NoError(t, store.Save(ctx, rec))

		require.NoError(t, store.Delete(ctx, rec.ID))
		_, err := store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestFirestoreStore_CleanupExpired(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := newEmulatorRecord(t, now.Add(-10*time.Second))
	live := newEmulatorRecord(t, now.Add(time.Minute))
	noExpiry := newEmulatorRecord(t, time.Time{})
	for _, rec := range []Record{expired, live, noExpiry} {
		require.NoError(t, store.Save(ctx, rec))
	}

	n, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Load(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Load(ctx, live.ID)
	assert.NoError(t, err, "unexpired sessions survive")
	_, err = store.Load(ctx, noExpiry.ID)
	assert.NoError(t, err, "sessions without a mirrored expiry are never swept")
}
