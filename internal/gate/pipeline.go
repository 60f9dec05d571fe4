package gate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/admin-console/internal/cookie"
	"github.com/dgellow/admin-console/internal/log"
	"github.com/dgellow/admin-console/internal/metrics"
	"github.com/dgellow/admin-console/internal/session"
	"github.com/dgellow/admin-console/internal/token"
)

// state is the value passed between pipeline stages. Stages return a new
// state rather than modifying the one they were given.
type state struct {
	sessionID string
	token     string
	claims    *token.Claims
	decodeErr error
}

// rejection ends the pipeline with a redirect to the login entry point
type rejection struct {
	outcome string
	// destroy removes the session record and the cookie before redirecting
	destroy bool
	reason  string
	err     error
}

func (r *rejection) fields() map[string]any {
	f := map[string]any{"outcome": r.outcome}
	if r.err != nil {
		f["error"] = r.err.Error()
	}
	return f
}

// loadSession resolves the session cookie to a stored bearer token
func loadSession(ctx context.Context, r *http.Request, store session.Store) (state, *rejection) {
	id, err := cookie.GetSession(r)
	if err != nil || id == "" {
		return state{}, &rejection{outcome: metrics.OutcomeNoSession}
	}
	if !session.ValidID(id) {
		// forged or truncated cookie
		return state{}, &rejection{outcome: metrics.OutcomeNoSession, destroy: true}
	}

	rec, err := store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// stale cookie for a record that is gone
			return state{sessionID: id}, &rejection{outcome: metrics.OutcomeNoSession, destroy: true}
		}
		return state{sessionID: id}, &rejection{outcome: metrics.OutcomeError, err: err}
	}

	tok := rec.Session().Token
	if tok == "" {
		return state{sessionID: id}, &rejection{
			outcome: metrics.OutcomeNoSession,
			destroy: true,
			reason:  metrics.ReasonRejected,
		}
	}
	return state{sessionID: id, token: tok}, nil
}

// decodeToken decodes the stored token afresh. Claims are never cached
// between requests.
func decodeToken(in state) state {
	out := in
	out.claims, out.decodeErr = token.Decode(in.token)
	return out
}

// mirrorExpiry records exp as the transport expiry of the session, both on
// the cookie and in the store. It runs before the validity check so that a
// session about to be evicted still carries the right expiry.
func mirrorExpiry(ctx context.Context, w http.ResponseWriter, store session.Store, in state) {
	if in.decodeErr != nil || in.claims == nil || !in.claims.HasExpiry() {
		return
	}
	exp := in.claims.ExpiresAt()
	cookie.SetSession(w, in.sessionID, exp)

	if err := store.Expire(ctx, in.sessionID, exp); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		log.LogWarnWithFields("gate", "Failed to mirror session expiry", map[string]any{
			"error": err.Error(),
		})
	}
}

// checkExpiry runs the expiry guard over the decoded state
func checkExpiry(in state, now time.Time) *rejection {
	err := token.Check(in.claims, in.decodeErr, now)
	if err == nil {
		return nil
	}

	var expired *token.ExpiredError
	if errors.As(err, &expired) {
		return &rejection{outcome: metrics.OutcomeExpired, destroy: true, reason: metrics.ReasonExpired, err: err}
	}
	return &rejection{outcome: metrics.OutcomeMalformed, destroy: true, reason: metrics.ReasonRejected, err: err}
}
