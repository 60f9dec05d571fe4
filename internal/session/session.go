// Package session maps bearer tokens onto server-side sessions keyed by a
// random identifier carried in the session cookie.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/admin-console/internal/crypto"
)

// ErrSessionNotFound is returned by Store.Load for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is the authenticated state of one browser agent. Its whole
// identity is the bearer token; decoded claims are never kept here.
type Session struct {
	Token string
}

// Serialize reduces a session to its stored payload, the bearer token.
func Serialize(s Session) string {
	return s.Token
}

// Deserialize rebuilds a session from a stored payload.
func Deserialize(payload string) Session {
	return Session{Token: payload}
}

// Record is what a Store persists under a session id.
type Record struct {
	ID      string
	Payload string
	// ExpiresAt mirrors the token's exp claim. Zero means unknown.
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewRecord builds the record for a freshly authenticated session.
func NewRecord(id string, s Session, expiresAt time.Time) Record {
	return Record{
		ID:        id,
		Payload:   Serialize(s),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
}

// Session returns the session stored in the record.
func (r Record) Session() Session {
	return Deserialize(r.Payload)
}

// Store persists session records.
//
// Delete is idempotent: deleting an unknown id is not an error.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, rec Record) error
	// Expire updates the transport expiry of an existing record.
	Expire(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// Cleaner is implemented by stores that need a periodic sweep of expired
// records. Redis expires keys on its own and does not implement it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// idLength is the unpadded base64url length of 32 bytes.
const idLength = 43

// NewID returns a fresh session identifier: 32 random bytes, base64url.
func NewID() (string, error) {
	return crypto.GenerateSecureToken()
}

// ValidID reports whether id has the shape NewID produces. Cookie values
// that fail this never reach a Store.
func ValidID(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// expired reports whether a record's mirrored expiry lies strictly before
// now, in whole seconds.
func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.Unix() > expiresAt.Unix()
}
