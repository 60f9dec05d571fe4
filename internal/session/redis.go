package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dgellow/admin-console/internal/crypto"
)

var _ Store = (*RedisStore)(nil)

const (
	fieldToken     = "token"
	fieldExpiresAt = "expires_at"
	fieldCreatedAt = "created_at"
)

// expiryGrace keeps a key alive through the second named by exp, which is
// still a valid instant for the token.
const expiryGrace = time.Second

// RedisStore keeps each session in a hash at <prefix><id>. The bearer token
// is encrypted before it is written and the key expires with the token.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	encryptor crypto.Encryptor
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, prefix string, encryptor crypto.Encryptor) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		encryptor: encryptor,
	}, nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("session: failed to load: %w", err)
	}
	sealed, ok := fields[fieldToken]
	if !ok || sealed == "" {
		return Record{}, ErrSessionNotFound
	}

	payload, err := r.encryptor.Decrypt(sealed)
	if err != nil {
		return Record{}, fmt.Errorf("session: failed to decrypt: %w", err)
	}

	rec := Record{ID: id, Payload: payload}
	if v, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64); err == nil && v > 0 {
		rec.ExpiresAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64); err == nil && v > 0 {
		rec.CreatedAt = time.Unix(v, 0)
	}
	return rec, nil
}

func (r *RedisStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("session: missing session id")
	}

	sealed, err := r.encryptor.Encrypt(rec.Payload)
	if err != nil {
		return fmt.Errorf("session: failed to encrypt: %w", err)
	}

	var expiresAt int64
	if !rec.ExpiresAt.IsZero() {
		expiresAt = rec.ExpiresAt.Unix()
	}

	key := r.key(rec.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldToken, sealed,
			fieldExpiresAt, expiresAt,
			fieldCreatedAt, rec.CreatedAt.Unix(),
		)
		if expiresAt > 0 {
			pipe.ExpireAt(ctx, key, rec.ExpiresAt.Add(expiryGrace))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: failed to save: %w", err)
	}
	return nil
}

func (r *RedisStore) Expire(ctx context.Context, id string, at time.Time) error {
	key := r.key(id)

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("session: failed to check existence: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldExpiresAt, at.Unix())
		pipe.ExpireAt(ctx, key, at.Add(expiryGrace))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: failed to set expiry: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("session: failed to delete: %w", err)
	}
	return nil
}
