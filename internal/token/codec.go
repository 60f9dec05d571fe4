// Package token decodes bearer tokens issued by the identity provider and
// decides whether they are still inside their validity window.
//
// Decoding is structural only. The provider's signature is not verified here:
// the token was obtained directly from the provider's token endpoint over TLS
// and is only ever read back from server-side session storage.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeError reports a bearer token that could not be decoded.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed bearer token: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Claims is the decoded claim set of a bearer token. It is recomputed for
// every request and never stored.
type Claims struct {
	Subject string
	Scopes  []string
	// Origin is the "origin" claim, or the issuer when absent.
	Origin string
	Issuer string

	exp    int64
	hasExp bool
	raw    jwt.MapClaims
}

// HasExpiry reports whether the token carried an exp claim.
func (c *Claims) HasExpiry() bool {
	return c != nil && c.hasExp
}

// ExpiresAt returns the exp claim, or the zero time when there is none.
func (c *Claims) ExpiresAt() time.Time {
	if !c.HasExpiry() {
		return time.Time{}
	}
	return time.Unix(c.exp, 0)
}

// Get returns an arbitrary claim from the token payload.
func (c *Claims) Get(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.raw[name]
	return v, ok
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Decode extracts the claims of raw without verifying its signature.
// Any structural problem yields a *DecodeError. Decode never panics.
func Decode(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &DecodeError{Cause: errors.New("empty token")}
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mapClaims); err != nil {
		return nil, &DecodeError{Cause: err}
	}

	claims := &Claims{raw: mapClaims}

	exp, err := mapClaims.GetExpirationTime()
	if err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("exp: %w", err)}
	}
	if exp != nil {
		claims.exp = exp.Unix()
		claims.hasExp = true
	}

	if claims.Subject, err = mapClaims.GetSubject(); err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("sub: %w", err)}
	}
	if claims.Issuer, err = mapClaims.GetIssuer(); err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("iss: %w", err)}
	}

	claims.Origin = claims.Issuer
	if origin, ok := mapClaims["origin"].(string); ok && origin != "" {
		claims.Origin = origin
	}

	claims.Scopes = parseScopes(mapClaims)
	return claims, nil
}

// parseScopes accepts "scope" as a space-delimited string or an array of
// strings, and "scp" as an alias.
func parseScopes(m jwt.MapClaims) []string {
	for _, name := range []string{"scope", "scp"} {
		switch v := m[name].(type) {
		case string:
			if fields := strings.Fields(v); len(fields) > 0 {
				return fields
			}
		case []any:
			scopes := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					scopes = append(scopes, s)
				}
			}
			if len(scopes) > 0 {
				return scopes
			}
		}
	}
	return nil
}
