package gate

import (
	"context"

	"github.com/dgellow/admin-console/internal/token"
)

type identityKey struct{}

// Identity is what a handler behind the gate learns about the operator
type Identity struct {
	// Token is the raw bearer token for forwarding to internal APIs
	Token  string
	Claims *token.Claims
}

// AuthorizationHeader returns the value of an Authorization header carrying
// the bearer token.
func (i Identity) AuthorizationHeader() string {
	return "Bearer " + i.Token
}

// WithIdentity attaches an identity to ctx
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the gate. It reports
// false for requests the gate did not admit.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
