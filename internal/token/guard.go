package token

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoExpiry is returned for tokens without an exp claim. Such tokens are
// never accepted.
var ErrNoExpiry = errors.New("bearer token has no exp claim")

// ExpiredError reports a token whose exp lies before the check instant.
type ExpiredError struct {
	ExpiresAt time.Time
	CheckedAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("bearer token expired at %s (checked at %s)",
		e.ExpiresAt.UTC().Format(time.RFC3339), e.CheckedAt.UTC().Format(time.RFC3339))
}

// Check returns nil when the decoded token is valid at now. The comparison is
// made in whole seconds: a token whose exp equals the current second is still
// valid. Any decode failure or missing exp fails closed.
func Check(claims *Claims, decodeErr error, now time.Time) error {
	if decodeErr != nil {
		return decodeErr
	}
	if claims == nil {
		return &DecodeError{Cause: errors.New("no claims")}
	}
	if !claims.HasExpiry() {
		return ErrNoExpiry
	}
	if now.Unix() > claims.exp {
		return &ExpiredError{ExpiresAt: claims.ExpiresAt(), CheckedAt: now}
	}
	return nil
}

// IsValid reports whether Check accepts the token.
func IsValid(claims *Claims, decodeErr error, now time.Time) bool {
	return Check(claims, decodeErr, now) == nil
}
